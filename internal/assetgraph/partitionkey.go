package assetgraph

import "sort"

// encodePartitionKey canonicalizes a partition key map into a stable string
// for use as a map key, matching the encoding workflow.Executor uses for
// the same purpose.
func encodePartitionKey(pk map[string]string) string {
	if len(pk) == 0 {
		return ""
	}
	keys := make([]string, 0, len(pk))
	for k := range pk {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + pk[k] + "&"
	}
	return out
}
