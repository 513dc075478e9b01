package orchestrator

import "github.com/unrealtools/mcp-bridge/internal/domain/catalog"

// UMGDomain exposes umg.workflow.compose: widget/asset composition with a
// compile-on-success step for the UMG-specific compile-aware tools.
var UMGDomain = Domain{
	Name:            "umg",
	ErrorCodeSuffix: "UMG_WORKFLOW_STEP_FAILED",
	CoreCapability:  "",
	KeysCapability:  "",
	DirectMap: map[string]string{
		"asset.create":       "umg.asset.create",
		"asset.load":         "umg.asset.load",
		"inspect":            "umg.inspect",
		"binding.list":       "umg.binding.list",
		"binding.add":        "umg.binding.add",
		"binding.remove":     "umg.binding.remove",
		"widget.create":      "umg.widget.create",
		"widget.event.bind":  "umg.widget.event.bind",
		"object.inspect":     "umg.object.inspect",
		"object.patch.v2":    "umg.object.patch.v2",
		"save":               "umg.save",
		"validate":           "umg.validate",
	},
	AssetCreateKinds: map[string]bool{"asset.create": true},
	SaveAwareTools: map[string]bool{
		"umg.save": true,
	},
	CompileAwareTools: map[string]bool{
		"umg.widget.create": true,
		"umg.binding.add":   true,
	},
	V2Variants: map[string]string{
		"umg.object.inspect": "umg.object.inspect.v2",
	},
	Rewrite: func(kind, directTool string, args map[string]any, snapshot catalog.Snapshot) (string, string, map[string]any) {
		if kind == "widget.event.bind" {
			if _, hasCapability := hasCapability(snapshot, "umg_widget_event_k2_v1"); !hasCapability {
				return "umg.widget.event.bind.legacy", "capability umg_widget_event_k2_v1 missing, using legacy event bind", args
			}
		}
		return directTool, "", nil
	},
}

func hasCapability(snapshot catalog.Snapshot, name string) (int, bool) {
	for i, c := range snapshot.Capabilities {
		if c == name {
			return i, true
		}
	}
	return -1, false
}
