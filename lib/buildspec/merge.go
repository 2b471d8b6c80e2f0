package buildspec

// Merge resolves an overlay document against inherited defaults and
// returns the effective spec. The $extend form appends the overlay
// commands to the default list. A plain command list, including an
// explicitly empty one, replaces it. An absent commands key keeps the
// defaults. A non-empty overlay base image wins. Neither input is
// modified and the result always has Extend resolved to false.
func Merge(base, overlay *Spec) *Spec {
	merged := &Spec{}
	if base != nil {
		merged.BaseImage = base.BaseImage
		merged.Commands = append(CommandList(nil), base.Commands...)
	}
	if overlay == nil {
		return merged
	}

	if overlay.BaseImage != "" {
		merged.BaseImage = overlay.BaseImage
	}

	switch {
	case overlay.Extend:
		merged.Commands = append(merged.Commands, overlay.Commands...)
	case overlay.Commands != nil:
		merged.Commands = append(CommandList{}, overlay.Commands...)
	}

	return merged
}
