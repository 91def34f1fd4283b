// Package detect implements the non-cycle anomaly detectors (C8): aborted
// read, intermediate read, and lost update. These operate directly on raw
// mops rather than on inferred graph edges. AbortedRead and
// IntermediateRead look at both register and list-append mops; LostUpdate
// considers only scalar (register) reads.
package detect

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hciniramy/elle/anomaly"
	"github.com/hciniramy/elle/history"
)

type writtenValue struct {
	key   history.Key
	value any
}

// AbortedRead implements spec.md §4.8: an ok read observing a value that
// a failed transaction wrote to the same key.
func AbortedRead(h *history.History) []anomaly.Finding {
	failedWrites := make(map[writtenValue]history.Op)
	for _, op := range h.Fails() {
		for _, m := range op.Value {
			if !m.IsWrite() {
				continue
			}
			failedWrites[writtenValue{m.Key, m.Value}] = op
		}
	}

	var findings []anomaly.Finding
	for _, op := range h.Oks() {
		for _, m := range op.Value {
			if !m.IsRead() {
				continue
			}
			for _, v := range readValues(m) {
				if writer, ok := failedWrites[writtenValue{m.Key, v}]; ok {
					findings = append(findings, anomaly.Finding{
						Tag: anomaly.TagAbortedRead,
						Fields: map[string]any{
							"key": m.Key, "value": v, "reader": op, "failed_writer": writer,
						},
					})
				}
			}
		}
	}
	return findings
}

// IntermediateRead implements spec.md §4.8: an ok read, by a different
// transaction, observing a value that was overwritten later within its own
// writing transaction (i.e. not that transaction's final write of the key).
func IntermediateRead(h *history.History) []anomaly.Finding {
	intermediateWrites := make(map[writtenValue]history.Op)
	for _, op := range h.Oks() {
		seenFinal := make(map[history.Key]bool)
		for i := len(op.Value) - 1; i >= 0; i-- {
			m := op.Value[i]
			if !m.IsWrite() {
				continue
			}
			if !seenFinal[m.Key] {
				seenFinal[m.Key] = true
				continue // this is the final write of m.Key; everything earlier is intermediate
			}
			intermediateWrites[writtenValue{m.Key, m.Value}] = op
		}
	}

	var findings []anomaly.Finding
	for _, op := range h.Oks() {
		for _, m := range op.Value {
			if !m.IsRead() {
				continue
			}
			for _, v := range readValues(m) {
				writer, ok := intermediateWrites[writtenValue{m.Key, v}]
				if !ok || writer.Index == op.Index {
					continue
				}
				findings = append(findings, anomaly.Finding{
					Tag: anomaly.TagIntermediateRead,
					Fields: map[string]any{
						"key": m.Key, "value": v, "reader": op, "writer": writer,
					},
				})
			}
		}
	}
	return findings
}

// LostUpdate implements spec.md §4.8: two or more distinct transactions
// both read the same key's value as of the same prior state, and both went
// on to write that key — one of their updates is necessarily lost.
func LostUpdate(h *history.History) []anomaly.Finding {
	type groupKey struct {
		key   history.Key
		value any
	}
	groups := make(map[groupKey]map[int]history.Op) // op.Index -> op, so each txn counts once

	for _, op := range h.Oks() {
		firstRead := make(map[history.Key]any)
		wrote := make(map[history.Key]bool)
		for _, m := range op.Value {
			if m.IsRead() {
				if _, isList := m.Value.([]any); isList {
					continue // lost-update only applies to scalar register reads
				}
				if _, ok := firstRead[m.Key]; !ok {
					firstRead[m.Key] = m.Value
				}
			}
			if m.IsWrite() {
				wrote[m.Key] = true
			}
		}
		for k, v := range firstRead {
			if !wrote[k] {
				continue
			}
			gk := groupKey{k, v}
			if groups[gk] == nil {
				groups[gk] = make(map[int]history.Op)
			}
			groups[gk][op.Index] = op
		}
	}

	var findings []anomaly.Finding
	keys := make([]groupKey, 0, len(groups))
	for gk := range groups {
		keys = append(keys, gk)
	}
	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })

	for _, gk := range keys {
		txns := groups[gk]
		if len(txns) < 2 {
			continue
		}
		ops := make([]history.Op, 0, len(txns))
		for _, op := range txns {
			ops = append(ops, op)
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i].Index < ops[j].Index })
		findings = append(findings, anomaly.Finding{
			Tag: anomaly.TagLostUpdate,
			Fields: map[string]any{
				"key": gk.key, "value": gk.value, "transactions": ops,
			},
		})
	}
	return findings
}

func readValues(m history.Mop) []any {
	if list, ok := m.Value.([]any); ok {
		return list
	}
	return []any{m.Value}
}

// Result bundles the parallel run of all three non-cycle detectors.
type Result struct {
	Findings []anomaly.Finding
}

// Detect runs AbortedRead, IntermediateRead, and LostUpdate concurrently
// (spec.md §5 "non-cycle detectors run independently; failure in one does
// not suppress others").
func Detect(ctx context.Context, h *history.History) (Result, error) {
	var aborted, intermediate, lost []anomaly.Finding
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error { aborted = AbortedRead(h); return nil })
	eg.Go(func() error { intermediate = IntermediateRead(h); return nil })
	eg.Go(func() error { lost = LostUpdate(h); return nil })
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Findings: append(append(aborted, intermediate...), lost...)}, nil
}
