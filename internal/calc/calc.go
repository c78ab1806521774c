// Package calc evaluates a profile's calculated columns and conditional
// formatting rules against row records. Expressions are compiled once
// per profile and evaluated per row.
package calc

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

type compiledColumn struct {
	colID   string
	program *vm.Program
	warned  bool
}

// ColumnSet is a compiled set of calculated columns.
type ColumnSet struct {
	logger  *slog.Logger
	columns []*compiledColumn
}

// CompileColumns compiles the calculated column expressions. A column
// that fails to compile is a malformed facet: it is reported so the
// caller can log and skip it, while the remaining columns still compile.
func CompileColumns(defs []core.CalculatedColumn, logger *slog.Logger) (*ColumnSet, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cs := &ColumnSet{logger: logger}
	var firstErr error
	for _, def := range defs {
		program, err := expr.Compile(def.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("compile calculated column %q: %w", def.ColID, err)
			}
			logger.Warn("skipping malformed calculated column",
				"colId", def.ColID, "error", err)
			continue
		}
		cs.columns = append(cs.columns, &compiledColumn{colID: def.ColID, program: program})
	}
	return cs, firstErr
}

// Len returns the number of successfully compiled columns.
func (cs *ColumnSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.columns)
}

// ApplyTo evaluates every calculated column into the record. An
// evaluation error leaves the cell nil and logs once per column, not per
// row; a stream of thousands of rows must not flood the log.
func (cs *ColumnSet) ApplyTo(rec core.RowRecord) {
	if cs == nil {
		return
	}
	for _, col := range cs.columns {
		out, err := expr.Run(col.program, map[string]any(rec))
		if err != nil {
			rec[col.colID] = nil
			if !col.warned {
				col.warned = true
				cs.logger.Warn("calculated column evaluation failed",
					"colId", col.colID, "error", err)
			}
			continue
		}
		rec[col.colID] = out
	}
}

type compiledRule struct {
	rule    core.ConditionalFormattingRule
	program *vm.Program
	warned  bool
}

// RuleSet is a compiled set of conditional formatting rules.
type RuleSet struct {
	logger *slog.Logger
	rules  []*compiledRule
}

// CompileRules compiles the formatting predicates. Malformed rules are
// skipped with a warning, matching the malformed-facet policy.
func CompileRules(rules []core.ConditionalFormattingRule, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rs := &RuleSet{logger: logger}
	var firstErr error
	for _, rule := range rules {
		program, err := expr.Compile(rule.Expression, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("compile formatting rule %q: %w", rule.ID, err)
			}
			logger.Warn("skipping malformed formatting rule",
				"rule", rule.ID, "error", err)
			continue
		}
		rs.rules = append(rs.rules, &compiledRule{rule: rule, program: program})
	}
	return rs, firstErr
}

// Len returns the number of successfully compiled rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// StylesFor returns the style names whose predicates hold for the
// record, keyed by column id; row-scoped rules appear under the empty
// key.
func (rs *RuleSet) StylesFor(rec core.RowRecord) map[string][]string {
	if rs == nil || len(rs.rules) == 0 {
		return nil
	}
	var out map[string][]string
	for _, r := range rs.rules {
		res, err := expr.Run(r.program, map[string]any(rec))
		if err != nil {
			if !r.warned {
				r.warned = true
				rs.logger.Warn("formatting rule evaluation failed",
					"rule", r.rule.ID, "error", err)
			}
			continue
		}
		hit, ok := res.(bool)
		if !ok || !hit {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[r.rule.ColID] = append(out[r.rule.ColID], r.rule.Style)
	}
	return out
}
