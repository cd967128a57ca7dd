package types

import "encoding/json"

// recognizedMetaKeys lists the struct-backed fields of Meta so
// MarshalJSON/UnmarshalJSON can split recognized vs. pass-through keys.
var recognizedMetaKeys = map[string]struct{}{
	"channel":           {},
	"camera":            {},
	"snapshot":          {},
	"snapshotHash":      {},
	"snapshotTs":        {},
	"faceSnapshot":      {},
	"poseForecast":      {},
	"poseThreatSummary": {},
	"resolvedChannels":  {},
	"thresholds":        {},
	"snapshotUrl":       {},
	"faceSnapshotUrl":   {},
	"snapshotDiffUrl":   {},
}

// metaAlias avoids infinite recursion into Meta's own MarshalJSON.
type metaAlias Meta

// MarshalJSON emits recognized fields plus Extra's pass-through keys
// flattened into a single JSON object, so unknown keys round-trip
// verbatim.
func (m Meta) MarshalJSON() ([]byte, error) {
	recognized, err := json.Marshal(metaAlias(m))
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(recognized, &merged); err != nil {
		return nil, err
	}

	for k, v := range m.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}

	return json.Marshal(merged)
}

// UnmarshalJSON splits the incoming object into recognized fields and an
// Extra pass-through map for everything else.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var alias metaAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]any)
	for k, v := range raw {
		if _, ok := recognizedMetaKeys[k]; ok {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}

	*m = Meta(alias)
	if len(extra) > 0 {
		m.Extra = extra
	}
	return nil
}

// poseForecastAlias avoids infinite recursion.
type poseForecastAlias PoseForecast

// rawMovementFlags coerces 0/1 ints (or bools) into booleans.
type rawMovementFlags []json.RawMessage

// UnmarshalJSON accepts movementFlags encoded as booleans or 0/1 integers
// and coerces the latter to booleans on the way in.
func (p *PoseForecast) UnmarshalJSON(data []byte) error {
	var probe struct {
		MovementFlags []json.RawMessage `json:"movementFlags"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	var alias poseForecastAlias
	// Temporarily blank movementFlags in the alias decode; we coerce below.
	type withoutFlags struct {
		poseForecastAlias
		MovementFlags json.RawMessage `json:"movementFlags,omitempty"`
	}
	var wf withoutFlags
	if err := json.Unmarshal(data, &wf); err != nil {
		return err
	}
	alias = wf.poseForecastAlias

	flags := make([]bool, 0, len(probe.MovementFlags))
	for _, raw := range probe.MovementFlags {
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			flags = append(flags, b)
			continue
		}
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		flags = append(flags, n != 0)
	}
	if len(flags) > 0 {
		alias.MovementFlags = flags
	}

	*p = PoseForecast(alias)
	return nil
}
