package mapper

import (
	"fmt"
	"slices"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/repoconfig"
	"github.com/zjrosen/butler/internal/storage"
)

// PlanLookups selects the lookup rules that derive needed from the keys of
// known and returns them producer first.
//
// Rules are scanned in declaration order, repeatedly, until a full pass
// selects nothing. A rule is selected when its outputs intersect the pending
// keys; its outputs then leave the pending set and its inputs not already
// known join it. Each rule is selected at most once. Keys still pending at
// the fixed point yield an UnresolvableKeysError.
func PlanLookups(datasetType string, needed dataid.KeySet, known dataid.DataID, rules []repoconfig.LookupRule) ([]repoconfig.LookupRule, error) {
	pending := needed.Clone()
	available := known.Keys()
	selected := make([]bool, len(rules))
	var order []repoconfig.LookupRule

	for progress := true; progress && len(pending) > 0; {
		progress = false
		for i, rule := range rules {
			if selected[i] {
				continue
			}
			outputs := dataid.NewKeySet(rule.Outputs...)
			if !pending.Intersects(outputs) {
				continue
			}
			pending = pending.Difference(outputs)
			pending.Update(dataid.NewKeySet(rule.Inputs...).Difference(available))
			selected[i] = true
			order = append(order, rule)
			progress = true
		}
	}

	if len(pending) > 0 {
		return nil, &UnresolvableKeysError{DatasetType: datasetType, Keys: pending}
	}
	slices.Reverse(order)
	return order, nil
}

// lookupOutputs extracts a rule's output keys from the value its lookup
// dataset type produced. Mappings (including property sets and exposure
// metadata) supply keys by name; a scalar supplies a rule's single output.
func lookupOutputs(rule repoconfig.LookupRule, value any) (dataid.DataID, error) {
	var fields map[string]any
	switch v := value.(type) {
	case dataid.DataID:
		fields = make(map[string]any, len(v))
		for k, s := range v {
			fields[k] = s
		}
	case map[string]string:
		fields = make(map[string]any, len(v))
		for k, s := range v {
			fields[k] = s
		}
	case map[string]any:
		fields = v
	case *storage.Exposure:
		fields = v.Metadata
	default:
		if len(rule.Outputs) == 1 && value != nil {
			return dataid.DataID{rule.Outputs[0]: dataid.FormatValue(value)}, nil
		}
		return nil, &UnresolvableKeysError{
			DatasetType: rule.Dataset,
			Keys:        dataid.NewKeySet(rule.Outputs...),
			Reason:      fmt.Sprintf("lookup produced %T, which carries no named keys", value),
		}
	}

	out := make(dataid.DataID, len(rule.Outputs))
	missing := dataid.NewKeySet()
	for _, key := range rule.Outputs {
		v, ok := fields[key]
		if !ok || v == nil {
			missing.Add(key)
			continue
		}
		out[key] = dataid.FormatValue(v)
	}
	if len(missing) > 0 {
		return nil, &UnresolvableKeysError{
			DatasetType: rule.Dataset,
			Keys:        missing,
			Reason:      "lookup result lacks the declared outputs",
		}
	}
	return out, nil
}
