package validation

import (
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// Engine runs a configured set of rules over records.
type Engine struct {
	names []string
	rules []Rule
	vctx  Context
	log   *zap.Logger
}

// NewEngine builds an engine from rule names. Unknown names are a
// configuration error.
func NewEngine(vctx Context, names ...string) (*Engine, error) {
	if len(names) == 0 {
		names = DefaultRuleNames
	}
	e := &Engine{
		vctx: vctx,
		log:  zap.L().With(zap.String("component", "validation")),
	}
	for _, name := range names {
		rule, ok := registry[name]
		if !ok {
			return nil, model.NewConfigurationError("unknown validation rule " + name)
		}
		e.names = append(e.names, name)
		e.rules = append(e.rules, rule)
	}
	return e, nil
}

// Validate runs every rule and returns the triggered results. A rule that
// errors internally is treated as not fired and a validator_error result
// is appended once.
func (e *Engine) Validate(rec *model.GeocodeRecord) []Result {
	var results []Result
	var ruleErred bool

	for i, rule := range e.rules {
		res, err := rule(rec, &e.vctx)
		if err != nil {
			ruleErred = true
			e.log.Warn("validation rule failed",
				zap.String("rule", e.names[i]),
				zap.String("ticket", rec.TicketNumber),
				zap.Error(err))
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	if ruleErred {
		results = append(results, Result{
			Flag:     FlagValidatorError,
			Severity: SeverityInfo,
			Message:  "one or more validation rules errored and were skipped",
			Action:   "inspect the logs for the failing rule",
		})
	}
	return results
}

// Flags extracts the flag names from results.
func Flags(results []Result) []string {
	flags := make([]string, 0, len(results))
	for _, r := range results {
		flags = append(flags, r.Flag)
	}
	return flags
}

// MaxSeverity returns the highest severity among results, or INFO when
// none triggered.
func MaxSeverity(results []Result) Severity {
	max := SeverityInfo
	for _, r := range results {
		if r.Severity.rank() > max.rank() {
			max = r.Severity
		}
	}
	return max
}
