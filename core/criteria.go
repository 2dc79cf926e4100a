package core

import (
	"encoding/json"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type CriteriaLogic string

const (
	LogicAnd CriteriaLogic = "and"
	LogicOr  CriteriaLogic = "or"
)

type CriteriaOp string

const (
	OpEq         CriteriaOp = "eq"
	OpNeq        CriteriaOp = "neq"
	OpContains   CriteriaOp = "contains"
	OpStartsWith CriteriaOp = "starts_with"
	OpEndsWith   CriteriaOp = "ends_with"
	OpIn         CriteriaOp = "in"
)

const maxCriteriaDepth = 8

// Criteria is a selection predicate over contact attributes. A node with a
// Logic is a group over Rules; otherwise it is a single Field/Op/Value rule.
// Matching is case-insensitive.
type Criteria struct {
	Logic  CriteriaLogic `json:"logic,omitempty"`
	Rules  []Criteria    `json:"rules,omitempty"`
	Field  string        `json:"field,omitempty"`
	Op     CriteriaOp    `json:"op,omitempty"`
	Value  string        `json:"value,omitempty"`
	Values []string      `json:"values,omitempty"`
}

func (c Criteria) IsGroup() bool {
	return c.Logic != "" || c.Rules != nil
}

// MarshalJSON writes group nodes with an explicit logic and rules list, so
// an empty group still decodes as a group.
func (c Criteria) MarshalJSON() ([]byte, error) {
	type rule Criteria
	if !c.IsGroup() {
		return json.Marshal(rule(c))
	}
	rules := c.Rules
	if rules == nil {
		rules = []Criteria{}
	}
	return json.Marshal(struct {
		Logic CriteriaLogic `json:"logic"`
		Rules []Criteria    `json:"rules"`
	}{Logic: normalizeLogic(c.Logic), Rules: rules})
}

func (c Criteria) Validate() error {
	return c.validate("criteria", 1)
}

func (c Criteria) validate(path string, depth int) error {
	if depth > maxCriteriaDepth {
		return criteriaError(path, fmt.Sprintf("nesting deeper than %d levels", maxCriteriaDepth))
	}
	if c.IsGroup() {
		switch normalizeLogic(c.Logic) {
		case LogicAnd, LogicOr:
		default:
			return criteriaError(path+".logic", fmt.Sprintf("unsupported logic %q", c.Logic))
		}
		for i, rule := range c.Rules {
			if err := rule.validate(fmt.Sprintf("%s.rules[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if !IsContactField(c.Field) {
		return criteriaError(path+".field", fmt.Sprintf("unsupported field %q", c.Field))
	}
	switch normalizeOp(c.Op) {
	case OpEq, OpNeq:
	case OpContains, OpStartsWith, OpEndsWith:
		if c.Value == "" {
			return criteriaError(path+".value", "value is required")
		}
	case OpIn:
		if len(c.Values) == 0 {
			return criteriaError(path+".values", "values are required")
		}
	default:
		return criteriaError(path+".op", fmt.Sprintf("unsupported operator %q", c.Op))
	}
	return nil
}

// Match evaluates the criteria against a contact. An empty and-group matches
// every contact, an empty or-group matches none.
func (c Criteria) Match(contact Contact) bool {
	if c.IsGroup() {
		if normalizeLogic(c.Logic) == LogicOr {
			for _, rule := range c.Rules {
				if rule.Match(contact) {
					return true
				}
			}
			return false
		}
		for _, rule := range c.Rules {
			if !rule.Match(contact) {
				return false
			}
		}
		return true
	}

	values := contact.Field(c.Field)
	op := normalizeOp(c.Op)
	if op == OpNeq {
		for _, value := range values {
			if strings.EqualFold(value, c.Value) {
				return false
			}
		}
		return true
	}
	for _, value := range values {
		if matchValue(op, strings.ToLower(value), c) {
			return true
		}
	}
	return false
}

func matchValue(op CriteriaOp, value string, c Criteria) bool {
	needle := strings.ToLower(c.Value)
	switch op {
	case OpEq:
		return value == needle
	case OpContains:
		return strings.Contains(value, needle)
	case OpStartsWith:
		return strings.HasPrefix(value, needle)
	case OpEndsWith:
		return strings.HasSuffix(value, needle)
	case OpIn:
		for _, candidate := range c.Values {
			if value == strings.ToLower(candidate) {
				return true
			}
		}
	}
	return false
}

func normalizeLogic(logic CriteriaLogic) CriteriaLogic {
	trimmed := CriteriaLogic(strings.TrimSpace(strings.ToLower(string(logic))))
	if trimmed == "" {
		return LogicAnd
	}
	return trimmed
}

func normalizeOp(op CriteriaOp) CriteriaOp {
	return CriteriaOp(strings.TrimSpace(strings.ToLower(string(op))))
}

// NormalizedLogic exposes the effective logic of a group node.
func (c Criteria) NormalizedLogic() CriteriaLogic {
	return normalizeLogic(c.Logic)
}

// NormalizedOp exposes the effective operator of a rule node.
func (c Criteria) NormalizedOp() CriteriaOp {
	return normalizeOp(c.Op)
}

func criteriaError(field string, message string) error {
	return NewValidationError("core: invalid selection criteria", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}
