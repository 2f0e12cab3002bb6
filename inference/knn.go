// Package inference - the two-stage detect-then-embed driver: serialize
// detections, embed reference and query crops, assign labels by nearest
// neighbors and fuse them back into the detection output.
package inference

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LabelResult holds the per-query label assignment for every requested rank.
type LabelResult struct {
	// BBoxIDs are the query detection ids, in query order.
	BBoxIDs []int
	// LabelsByRank maps a rank k to the per-query labels, already mapped
	// into the query taxonomy.
	LabelsByRank map[int][]int
}

// InferLabels assigns each query crop a category by majority vote over its k
// nearest reference embeddings in Euclidean distance. Vote ties go to the
// label seen first among the neighbors. The winning reference label is then
// translated through the taxonomy mapping; a reference label missing from
// the mapping is an error.
//
// Arguments:
//   - qryEmb: Query embeddings, one per detection crop.
//   - qryIDs: Detection annotation id per query, aligned with qryEmb.
//   - refEmb: Reference embeddings.
//   - refLabels: Reference category id per reference embedding.
//   - mapping: Reference category id to query category id.
//   - rankList: The k values to assign labels for.
//
// Returns:
//   - *LabelResult: Labels per rank in query order.
//   - error: Non-nil on empty inputs, dimension mismatches or unmapped
//     reference labels.
func InferLabels(qryEmb [][]float32, qryIDs []int, refEmb [][]float32, refLabels []int,
	mapping map[int]int, rankList []int) (*LabelResult, error) {

	if len(qryEmb) == 0 || len(refEmb) == 0 {
		return nil, errors.New("infer labels: empty query or reference embeddings")
	}
	if len(qryEmb) != len(qryIDs) {
		return nil, errors.Errorf("infer labels: %d queries but %d ids", len(qryEmb), len(qryIDs))
	}
	if len(refEmb) != len(refLabels) {
		return nil, errors.Errorf("infer labels: %d references but %d labels", len(refEmb), len(refLabels))
	}
	if len(rankList) == 0 {
		return nil, errors.New("infer labels: empty rank list")
	}

	dists, err := pairwiseDistances(qryEmb, refEmb)
	if err != nil {
		return nil, err
	}

	// Neighbor order per query, nearest first.
	nRef := len(refEmb)
	neighbors := make([][]int, len(qryEmb))
	for i := range qryEmb {
		order := make([]int, nRef)
		for j := range order {
			order[j] = j
		}
		row := i
		sort.SliceStable(order, func(a, b int) bool {
			return dists.At(row, order[a]) < dists.At(row, order[b])
		})
		neighbors[i] = order
	}

	result := &LabelResult{
		BBoxIDs:      append([]int(nil), qryIDs...),
		LabelsByRank: make(map[int][]int, len(rankList)),
	}
	for _, k := range rankList {
		if k < 1 || k > nRef {
			return nil, errors.Errorf("infer labels: rank %d outside [1, %d]", k, nRef)
		}
		labels := make([]int, len(qryEmb))
		for i, order := range neighbors {
			votes := make([]int, 0, k)
			for _, j := range order[:k] {
				votes = append(votes, refLabels[j])
			}
			mapped, ok := mapping[majority(votes)]
			if !ok {
				return nil, errors.Errorf("infer labels: reference label %d not in mapping", majority(votes))
			}
			labels[i] = mapped
		}
		result.LabelsByRank[k] = labels
	}
	return result, nil
}

// FilterMappedReferences drops reference embeddings whose category id has no
// entry in the taxonomy mapping, keeping order. With the drop policy the
// mapping is allowed to be partial; unmapped categories must not take part in
// the vote at all instead of failing the lookup after winning one.
//
// Arguments:
//   - refEmb: Reference embeddings.
//   - refLabels: Reference category id per embedding, aligned with refEmb.
//   - mapping: Reference category id to query category id.
//
// Returns:
//   - [][]float32: The kept embeddings.
//   - []int: Their category ids.
func FilterMappedReferences(refEmb [][]float32, refLabels []int, mapping map[int]int) ([][]float32, []int) {
	kept := make([][]float32, 0, len(refEmb))
	labels := make([]int, 0, len(refLabels))
	for i, emb := range refEmb {
		if i >= len(refLabels) {
			break
		}
		if _, ok := mapping[refLabels[i]]; !ok {
			continue
		}
		kept = append(kept, emb)
		labels = append(labels, refLabels[i])
	}
	return kept, labels
}

// pairwiseDistances computes the query-by-reference Euclidean distance
// matrix via the expansion |q - r|^2 = |q|^2 + |r|^2 - 2 q.r.
func pairwiseDistances(qry, ref [][]float32) (*mat.Dense, error) {
	dim := len(qry[0])
	q, qn, err := toDense(qry, dim)
	if err != nil {
		return nil, errors.Wrap(err, "query embeddings")
	}
	r, rn, err := toDense(ref, dim)
	if err != nil {
		return nil, errors.Wrap(err, "reference embeddings")
	}

	var cross mat.Dense
	cross.Mul(q, r.T())

	nq, nr := len(qry), len(ref)
	out := mat.NewDense(nq, nr, nil)
	for i := 0; i < nq; i++ {
		for j := 0; j < nr; j++ {
			d := qn[i] + rn[j] - 2*cross.At(i, j)
			if d < 0 {
				d = 0
			}
			out.Set(i, j, math.Sqrt(d))
		}
	}
	return out, nil
}

// toDense packs embeddings into a dense matrix and returns the squared row
// norms alongside.
func toDense(emb [][]float32, dim int) (*mat.Dense, []float64, error) {
	data := make([]float64, 0, len(emb)*dim)
	norms := make([]float64, len(emb))
	for i, e := range emb {
		if len(e) != dim {
			return nil, nil, errors.Errorf("row %d has dimension %d, want %d", i, len(e), dim)
		}
		var n float64
		for _, v := range e {
			f := float64(v)
			data = append(data, f)
			n += f * f
		}
		norms[i] = n
	}
	return mat.NewDense(len(emb), dim, data), norms, nil
}

// majority returns the most frequent value, breaking ties by first
// occurrence.
func majority(votes []int) int {
	counts := make(map[int]int, len(votes))
	best := votes[0]
	bestCount := 0
	for _, v := range votes {
		counts[v]++
	}
	for _, v := range votes {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}
