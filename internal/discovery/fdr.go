package discovery

import (
	"math"
	"sort"
)

// RejectReason says why a candidate did not survive acceptance.
type RejectReason string

const (
	RejectFDR         RejectReason = "fdr"
	RejectConfidence  RejectReason = "ci95_upper_exceeds_epsilon"
	RejectFDRAndBound RejectReason = "fdr_and_ci95_upper"
)

// Rejection is a candidate discarded by the FDR controller.
type Rejection struct {
	Edge   Edge         `json:"edge"`
	Reason RejectReason `json:"reason"`
}

// FDRResult is the outcome of Benjamini–Hochberg over one segment.
type FDRResult struct {
	M         int         `json:"m"`
	MStar     int         `json:"m_star"`
	Threshold float64     `json:"p_threshold"`
	Accepted  []Edge      `json:"accepted"`
	Rejected  []Rejection `json:"rejected,omitempty"`
}

// rankOrder sorts candidate indices by p-value, breaking ties by (src, dst)
// so the rank boundary is deterministic.
func rankOrder(cands []Edge) []int {
	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := cands[idx[a]], cands[idx[b]]
		if ea.PValue != eb.PValue {
			return ea.PValue < eb.PValue
		}
		if ea.Src != eb.Src {
			return ea.Src < eb.Src
		}
		return ea.Dst < eb.Dst
	})
	return idx
}

// bhRatio is p_(r) * M / r, never below p_(r) itself. At r == M the product
// can round one ulp under p.
func bhRatio(p float64, r, m int) float64 {
	v := p * float64(m) / float64(r)
	if v < p {
		v = p
	}
	return v
}

// adjustSorted computes monotone BH q-values for p-values already in rank
// order: q_(m) = min over j >= m of min(1, p_(j) * M / j).
func adjustSorted(sorted []float64) []float64 {
	m := len(sorted)
	q := make([]float64, m)
	running := 1.0
	for r := m; r >= 1; r-- {
		if v := bhRatio(sorted[r-1], r, m); v < running {
			running = v
		}
		q[r-1] = running
	}
	return q
}

// QValues returns BH-adjusted q-values in the input order.
func QValues(p []float64) []float64 {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	sorted := make([]float64, len(p))
	for r, i := range idx {
		sorted[r] = p[i]
	}
	adj := adjustSorted(sorted)
	out := make([]float64, len(p))
	for r, i := range idx {
		out[i] = adj[r]
	}
	return out
}

// BenjaminiHochberg ranks the candidates, annotates q-values, and accepts
// every candidate with rank <= m* whose ci95_upper is within epsilon. The
// confidence bound is a hard gate independent of the q-value.
func BenjaminiHochberg(cands []Edge, qMax, epsilon float64) FDRResult {
	res := FDRResult{M: len(cands)}
	if len(cands) == 0 {
		return res
	}
	order := rankOrder(cands)
	sorted := make([]float64, len(order))
	for r, i := range order {
		sorted[r] = cands[i].PValue
	}
	q := adjustSorted(sorted)

	// p_(r) <= r/M * qMax is tested as p_(r) * M / r <= qMax so that every
	// accepted q-value is within qMax after rounding.
	for r := len(order); r >= 1; r-- {
		if bhRatio(sorted[r-1], r, len(order)) <= qMax {
			res.MStar = r
			res.Threshold = sorted[r-1]
			break
		}
	}

	for r, i := range order {
		e := cands[i]
		e.QValue = q[r]
		passFDR := r+1 <= res.MStar
		passBound := !math.IsNaN(e.CI95Upper) && e.CI95Upper <= epsilon
		switch {
		case passFDR && passBound:
			res.Accepted = append(res.Accepted, e)
		case !passFDR && !passBound:
			res.Rejected = append(res.Rejected, Rejection{Edge: e, Reason: RejectFDRAndBound})
		case !passFDR:
			res.Rejected = append(res.Rejected, Rejection{Edge: e, Reason: RejectFDR})
		default:
			res.Rejected = append(res.Rejected, Rejection{Edge: e, Reason: RejectConfidence})
		}
	}
	return res
}
