package piece

import (
	"fmt"
	"regexp"

	"github.com/yoshihiko555/takt/internal/core"
)

// minVersionRe accepts plain MAJOR.MINOR.PATCH with no prefix and no
// pre-release suffix.
var minVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

func validateDescriptor(d *descriptor) error {
	if d.Name == "" {
		return core.ErrValidation("PIECE_NAME_REQUIRED", "piece name cannot be empty")
	}
	if d.MaxMovements < 1 {
		return core.ErrValidation("PIECE_MAX_MOVEMENTS",
			fmt.Sprintf("piece %s: max_movements must be at least 1", d.Name))
	}
	if d.MinVersion != "" && !minVersionRe.MatchString(d.MinVersion) {
		return core.ErrValidation("PIECE_MIN_VERSION",
			fmt.Sprintf("piece %s: min_version %q must be MAJOR.MINOR.PATCH", d.Name, d.MinVersion))
	}
	if len(d.Movements) == 0 {
		return core.ErrValidation("PIECE_MOVEMENTS_REQUIRED",
			fmt.Sprintf("piece %s: at least one movement required", d.Name))
	}

	names := make(map[string]bool, len(d.Movements))
	for i := range d.Movements {
		m := &d.Movements[i]
		if m.Name == "" {
			return core.ErrValidation("MOVEMENT_NAME_REQUIRED",
				fmt.Sprintf("piece %s: movement %d has no name", d.Name, i))
		}
		if names[m.Name] {
			return core.ErrValidation("MOVEMENT_NAME_DUPLICATE",
				fmt.Sprintf("piece %s: duplicate movement name %s", d.Name, m.Name))
		}
		names[m.Name] = true
	}

	if d.InitialMovement == "" || !names[d.InitialMovement] {
		return core.ErrValidation("PIECE_INITIAL_MOVEMENT",
			fmt.Sprintf("piece %s: initial_movement %q does not name a movement", d.Name, d.InitialMovement))
	}

	for i := range d.Movements {
		if err := validateMovement(d, &d.Movements[i], names); err != nil {
			return err
		}
	}
	return nil
}

func validateMovement(d *descriptor, m *movementDescriptor, names map[string]bool) error {
	variants := 0
	if m.Parallel != nil {
		variants++
	}
	if m.TeamLeader != nil {
		variants++
	}
	if m.Arpeggio != nil {
		variants++
	}
	if variants > 1 {
		return core.ErrValidation(core.CodeInvalidMovementKind,
			fmt.Sprintf("movement %s: parallel, team_leader and arpeggio are mutually exclusive", m.Name))
	}

	if m.RequiredPermissionMode != "" {
		mode := core.PermissionMode(m.RequiredPermissionMode)
		if mode.Rank() == 0 {
			return core.ErrValidation("MOVEMENT_PERMISSION_MODE",
				fmt.Sprintf("movement %s: unknown permission mode %q", m.Name, m.RequiredPermissionMode))
		}
	}

	for i, r := range m.Rules {
		if err := validateRule(m, i, r, names); err != nil {
			return err
		}
	}

	switch {
	case m.Parallel != nil:
		return validateParallel(m, names)
	case m.TeamLeader != nil:
		if m.TeamLeader.MaxParts < 1 || m.TeamLeader.MaxParts > core.MaxTeamParts {
			return core.ErrValidation("TEAM_LEADER_MAX_PARTS",
				fmt.Sprintf("movement %s: max_parts must be between 1 and %d", m.Name, core.MaxTeamParts))
		}
	case m.Arpeggio != nil:
		if m.Arpeggio.Source == "" {
			return core.ErrValidation("ARPEGGIO_SOURCE",
				fmt.Sprintf("movement %s: arpeggio source required", m.Name))
		}
		if m.Arpeggio.BatchSize < 1 {
			return core.ErrValidation("ARPEGGIO_BATCH_SIZE",
				fmt.Sprintf("movement %s: batch_size must be at least 1", m.Name))
		}
	}
	return nil
}

func validateRule(m *movementDescriptor, idx int, r ruleDescriptor, names map[string]bool) error {
	if r.Next == "" {
		return core.ErrValidation("RULE_NEXT_REQUIRED",
			fmt.Sprintf("movement %s rule %d: next required", m.Name, idx+1))
	}
	if !core.IsTerminal(r.Next) && !names[r.Next] {
		return core.ErrValidation(core.CodeUnknownNext,
			fmt.Sprintf("movement %s rule %d: next %q is neither a movement nor a terminal", m.Name, idx+1, r.Next))
	}
	switch r.Aggregate {
	case "", "all", "any":
	default:
		return core.ErrValidation("RULE_AGGREGATE",
			fmt.Sprintf("movement %s rule %d: aggregate must be all or any", m.Name, idx+1))
	}
	if r.Aggregate != "" && r.Condition == "" {
		return core.ErrValidation("RULE_AGGREGATE_CONDITION",
			fmt.Sprintf("movement %s rule %d: aggregate rule needs a condition text", m.Name, idx+1))
	}
	return nil
}

// validateParallel enforces that a parallel movement's rules are exclusively
// aggregate and that every aggregate condition text appears in at least one
// sub-movement rule.
func validateParallel(m *movementDescriptor, names map[string]bool) error {
	if len(m.Parallel.SubMovements) == 0 {
		return core.ErrValidation("PARALLEL_SUB_MOVEMENTS",
			fmt.Sprintf("movement %s: parallel needs at least one sub-movement", m.Name))
	}
	for _, r := range m.Rules {
		if r.Aggregate == "" {
			return core.ErrValidation("PARALLEL_RULES_AGGREGATE",
				fmt.Sprintf("movement %s: parallel movement rules must all be aggregate", m.Name))
		}
	}

	subNames := make(map[string]bool)
	for i := range m.Parallel.SubMovements {
		sub := &m.Parallel.SubMovements[i]
		if sub.Name == "" {
			return core.ErrValidation("MOVEMENT_NAME_REQUIRED",
				fmt.Sprintf("movement %s: sub-movement %d has no name", m.Name, i))
		}
		if subNames[sub.Name] {
			return core.ErrValidation("MOVEMENT_NAME_DUPLICATE",
				fmt.Sprintf("movement %s: duplicate sub-movement name %s", m.Name, sub.Name))
		}
		subNames[sub.Name] = true
		if err := validateMovement(nil, sub, names); err != nil {
			return err
		}
	}

	for _, r := range m.Rules {
		if !subMovementsCarry(m.Parallel.SubMovements, r.Condition) {
			return core.ErrValidation("PARALLEL_CONDITION_UNMATCHED",
				fmt.Sprintf("movement %s: no sub-movement rule carries condition %q", m.Name, r.Condition))
		}
	}
	return nil
}

func subMovementsCarry(subs []movementDescriptor, condition string) bool {
	for i := range subs {
		for _, r := range subs[i].Rules {
			if r.Condition == condition {
				return true
			}
		}
	}
	return false
}
