package orchestrator

import "github.com/unrealtools/mcp-bridge/internal/domain/catalog"

// SeqDomain exposes seq.workflow.compose: Sequencer track/section/key
// composition, pulled back in from the original implementation's
// sequencer_orchestrator.py (the distilled spec only named the UMG
// compose tool).
var SeqDomain = Domain{
	Name:            "seq",
	ErrorCodeSuffix: "SEQ_WORKFLOW_STEP_FAILED",
	CoreCapability:  "sequencer_core_v1",
	KeysCapability:  "sequencer_keys_v1",
	DirectMap: map[string]string{
		"asset.create":    "seq.asset.create",
		"asset.load":      "seq.asset.load",
		"inspect":         "seq.inspect",
		"binding.list":    "seq.binding.list",
		"binding.add":     "seq.binding.add",
		"binding.remove":  "seq.binding.remove",
		"track.list":      "seq.track.list",
		"track.add":       "seq.track.add",
		"track.remove":    "seq.track.remove",
		"section.list":    "seq.section.list",
		"section.add":     "seq.section.add",
		"section.patch":   "seq.section.patch",
		"section.remove":  "seq.section.remove",
		"channel.list":    "seq.channel.list",
		"key.set":         "seq.key.set",
		"key.remove":      "seq.key.remove",
		"key.bulk_set":    "seq.key.bulk_set",
		"object.inspect":  "seq.object.inspect",
		"object.patch.v2": "seq.object.patch.v2",
		"playback.patch":  "seq.playback.patch",
		"save":            "seq.save",
		"validate":        "seq.validate",
	},
	AssetCreateKinds: map[string]bool{"asset.create": true},
	SaveAwareTools: map[string]bool{
		"seq.save": true,
	},
	// No compile-on-success concept in the Sequencer domain.
	CompileAwareTools: map[string]bool{},
	Rewrite: func(kind, directTool string, args map[string]any, snapshot catalog.Snapshot) (string, string, map[string]any) {
		if kind != "key.bulk_set" {
			return directTool, "", nil
		}
		_, hasKeysCapability := hasCapability(snapshot, "sequencer_keys_v1")
		_, hasBulkTool := snapshot.Tools["seq.key.bulk_set"]
		if hasKeysCapability && hasBulkTool {
			return directTool, "", nil
		}
		return "seq.key.set", "sequencer_keys_v1 or seq.key.bulk_set unavailable, falling back to seq.key.set for the first key", translateBulkToSingleKey(args)
	},
}

// translateBulkToSingleKey takes the first key object of a bulk_set batch
// and merges it into the params for a single seq.key.set call, matching the
// original implementation's literal fallback behavior.
func translateBulkToSingleKey(args map[string]any) map[string]any {
	out := cloneArgs(args)
	keys, ok := args["keys"].([]any)
	if !ok || len(keys) == 0 {
		return out
	}
	first, ok := keys[0].(map[string]any)
	if !ok {
		return out
	}
	delete(out, "keys")
	for k, v := range first {
		out[k] = v
	}
	return out
}
