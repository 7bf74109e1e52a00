package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// refPattern matches every $path reference embedded in a string.
var refPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\.\d+)*`)

// alwaysAvailable are reference roots that exist in every state, plus
// _last_error, which the engine injects on every on_error edge.
var alwaysAvailable = map[string]bool{
	"input":       true,
	"now":         true,
	"history":     true,
	"_last_error": true,
}

// Validate runs every static check over the workflow and reports all
// defects at once. It must run before the first execution.
//
// Checks: step ID uniqueness, known step types, successor reference
// resolution, variable reachability (optimistic forward walk), schema path
// compatibility for call outputs, graph reachability, and reserved-key
// writes in assign steps.
func (d *Definition) Validate() error {
	v := &validator{def: d}
	v.checkStepIDs()
	v.checkTypes()
	v.checkReferences()
	v.checkReservedWrites()
	v.checkReachability()
	v.checkVariableFlow()
	v.checkSchemaPaths()

	if len(v.issues) > 0 {
		return &errors.ValidationError{Issues: v.issues}
	}
	return nil
}

type validator struct {
	def    *Definition
	issues []string
}

func (v *validator) addf(format string, args ...any) {
	v.issues = append(v.issues, fmt.Sprintf(format, args...))
}

// checkStepIDs reports duplicate IDs, at the top level and within each
// nested scope.
func (v *validator) checkStepIDs() {
	seen := map[string]bool{}
	for i := range v.def.Steps {
		id := v.def.Steps[i].ID
		if seen[id] {
			v.addf("duplicate step ID: %s", id)
		}
		seen[id] = true
	}

	forEachNestedScope(v.def.Steps, func(owner string, steps []Step) {
		nested := map[string]bool{}
		for i := range steps {
			id := steps[i].ID
			if nested[id] {
				v.addf("step %s: duplicate nested step ID: %s", owner, id)
			}
			nested[id] = true
		}
	})
}

// checkTypes reports steps whose type has no registered executor config.
func (v *validator) checkTypes() {
	forEachStep(v.def.Steps, func(step *Step) {
		if !KnownType(step.Type) {
			v.addf("step %s: unknown step type %q", step.ID, step.Type)
		}
	})
}

// checkReferences verifies every successor target names an existing
// top-level step or the terminal marker.
func (v *validator) checkReferences() {
	ids := map[string]bool{}
	for i := range v.def.Steps {
		ids[v.def.Steps[i].ID] = true
	}

	check := func(stepID, field, target string) {
		if target == "" || target == Finished {
			return
		}
		if !ids[target] {
			v.addf("step %s: %s references unknown step %q", stepID, field, target)
		}
	}

	forEachStep(v.def.Steps, func(step *Step) {
		check(step.ID, "next", step.Next)
		check(step.ID, "on_error", step.OnError)

		switch cfg := step.Config.(type) {
		case *RouterConfig:
			for i := range cfg.Routes {
				check(step.ID, fmt.Sprintf("routes[%d].then", i), cfg.Routes[i].Then)
			}
			check(step.ID, "default", cfg.Default)
		case *LoopConfig:
			check(step.ID, "on_exhausted", cfg.OnExhausted)
		case *HaltConfig:
			check(step.ID, "resume_step", cfg.ResumeStep)
		case *ApprovalConfig:
			check(step.ID, "on_reject", cfg.OnReject)
			check(step.ID, "on_timeout", cfg.OnTimeout)
		}
	})
}

// checkReservedWrites refuses user assign writes to reserved ctx keys and
// the engine-owned underscore prefix.
func (v *validator) checkReservedWrites() {
	forEachStep(v.def.Steps, func(step *Step) {
		cfg, ok := step.Config.(*AssignConfig)
		if !ok {
			return
		}
		for _, pair := range cfg.Set.Pairs {
			if ReservedKeys[pair.Key] {
				v.addf("step %s: cannot assign reserved key %q", step.ID, pair.Key)
			} else if strings.HasPrefix(pair.Key, "_") {
				v.addf("step %s: cannot assign engine-owned key %q", step.ID, pair.Key)
			}
		}
	})
}

// checkReachability reports top-level steps that no forward walk from the
// entry step can reach.
func (v *validator) checkReachability() {
	if len(v.def.Steps) == 0 {
		return
	}
	reached := map[string]bool{}
	queue := []string{v.def.Steps[0].ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		step := v.def.Step(id)
		if step == nil {
			continue
		}
		for _, succ := range successors(step) {
			if succ != "" && succ != Finished && !reached[succ] {
				queue = append(queue, succ)
			}
		}
	}

	for i := range v.def.Steps {
		if !reached[v.def.Steps[i].ID] {
			v.addf("step %s is unreachable from the entry step", v.def.Steps[i].ID)
		}
	}
}

// checkVariableFlow performs a symbolic forward walk: the set of ctx keys
// that could be set by any prefix of executed steps grows along every
// edge (optimistic union over branches). References whose root no
// preceding step can have assigned are reported.
func (v *validator) checkVariableFlow() {
	if len(v.def.Steps) == 0 {
		return
	}

	// Fixpoint over the available-set per step; sets only grow.
	available := map[string]map[string]bool{}
	entry := v.def.Steps[0].ID
	available[entry] = map[string]bool{}

	changed := true
	for changed {
		changed = false
		for i := range v.def.Steps {
			step := &v.def.Steps[i]
			in, seen := available[step.ID]
			if !seen {
				continue
			}
			out := union(in, producedKeys(step))
			for _, succ := range successors(step) {
				if succ == "" || succ == Finished {
					continue
				}
				cur, ok := available[succ]
				if !ok {
					available[succ] = copySet(out)
					changed = true
					continue
				}
				if mergeInto(cur, out) {
					changed = true
				}
			}
		}
	}

	// Reporting pass.
	for i := range v.def.Steps {
		step := &v.def.Steps[i]
		in, seen := available[step.ID]
		if !seen {
			continue // unreachable, reported separately
		}
		v.checkStepRefs(step, in)
	}
}

// checkStepRefs verifies a step's references against the available set,
// recursing into loop bodies and parallel branches with their local
// bindings.
func (v *validator) checkStepRefs(step *Step, available map[string]bool) {
	for _, ref := range stepRefs(step) {
		root := strings.SplitN(ref, ".", 2)[0]
		if !alwaysAvailable[root] && !available[root] {
			v.addf("step %s: reference $%s to variable %q never assigned by a preceding step", step.ID, ref, root)
		}
	}

	switch cfg := step.Config.(type) {
	case *LoopConfig:
		body := union(available, []string{cfg.BindAs(), cfg.BindIndexAs()})
		for i := range cfg.Do {
			inner := &cfg.Do[i]
			v.checkStepRefs(inner, body)
			body = union(body, producedKeys(inner))
		}
	case *ParallelConfig:
		for i := range cfg.Branches {
			v.checkStepRefs(&cfg.Branches[i], available)
		}
	}
}

// checkSchemaPaths digs dotted references into call outputs that declare a
// schema with properties, reporting unknown segments with the keys that
// are available.
func (v *validator) checkSchemaPaths() {
	schemas := map[string]map[string]any{}
	forEachStep(v.def.Steps, func(step *Step) {
		cfg, ok := step.Config.(*CallConfig)
		if !ok || cfg.Output.Schema == nil {
			return
		}
		if _, ok := cfg.Output.Schema["properties"]; ok {
			schemas[StepOutputKey(step)] = cfg.Output.Schema
		}
	})
	if len(schemas) == 0 {
		return
	}

	forEachStep(v.def.Steps, func(step *Step) {
		for _, ref := range stepRefs(step) {
			segments := strings.Split(ref, ".")
			schema, ok := schemas[segments[0]]
			if !ok || len(segments) < 2 {
				continue
			}
			v.checkSchemaPath(step.ID, ref, schema, segments[1:])
		}
	})
}

func (v *validator) checkSchemaPath(stepID, ref string, schema map[string]any, segments []string) {
	current := schema
	for _, segment := range segments {
		properties, ok := current["properties"].(map[string]any)
		if !ok {
			return // schema stops declaring structure; nothing to check
		}
		next, ok := properties[segment].(map[string]any)
		if !ok {
			v.addf("step %s: reference $%s: schema has no property %q (available: %s)",
				stepID, ref, segment, strings.Join(sortedKeys(properties), ", "))
			return
		}
		current = next
	}
}

// successors returns every forward edge out of a step.
func successors(step *Step) []string {
	targets := []string{step.Next, step.OnError}
	switch cfg := step.Config.(type) {
	case *RouterConfig:
		for i := range cfg.Routes {
			targets = append(targets, cfg.Routes[i].Then)
		}
		targets = append(targets, cfg.Default)
	case *LoopConfig:
		targets = append(targets, cfg.OnExhausted)
	case *HaltConfig:
		targets = append(targets, cfg.ResumeStep)
	case *ApprovalConfig:
		targets = append(targets, cfg.OnReject, cfg.OnTimeout)
	}
	return targets
}

// producedKeys returns the ctx keys a step could set, for the symbolic
// walk. Halt and approval widen with the keys the engine injects on
// resume.
func producedKeys(step *Step) []string {
	switch cfg := step.Config.(type) {
	case *StartConfig:
		return []string{"input"}
	case *AssignConfig:
		keys := make([]string, 0, cfg.Set.Len())
		for _, pair := range cfg.Set.Pairs {
			keys = append(keys, pair.Key)
		}
		return keys
	case *CallConfig, *TransformConfig, *WorkflowConfig, *LoopConfig:
		return []string{StepOutputKey(step)}
	case *ParallelConfig:
		keys := []string{StepOutputKey(step)}
		for i := range cfg.Branches {
			keys = append(keys, producedKeys(&cfg.Branches[i])...)
		}
		return keys
	case *HaltConfig:
		return []string{"response"}
	case *ApprovalConfig:
		return []string{"response", "approved"}
	default:
		return nil
	}
}

// StepOutputKey returns the ctx key a step stores its output under: the
// configured output key, defaulting to the step's own ID.
func StepOutputKey(step *Step) string {
	var key string
	switch cfg := step.Config.(type) {
	case *CallConfig:
		key = cfg.Output.Key
	case *TransformConfig:
		key = cfg.Output
	case *WorkflowConfig:
		key = cfg.Output
	case *LoopConfig:
		key = cfg.Output
	case *ParallelConfig:
		key = cfg.Output
	}
	if key == "" {
		key = step.ID
	}
	return key
}

// stepRefs collects every $path reference (without the $) in a step's
// config. Loop bodies and parallel branches are excluded; the variable
// walk checks those with their local bindings.
func stepRefs(step *Step) []string {
	var refs []string
	switch cfg := step.Config.(type) {
	case *EndConfig:
		scanRefs(cfg.Output, &refs)
	case *AssignConfig:
		for _, pair := range cfg.Set.Pairs {
			scanRefs(pair.Value, &refs)
		}
	case *CallConfig:
		scanRefs(cfg.Input, &refs)
	case *RouterConfig:
		for i := range cfg.Routes {
			scanCondition(&cfg.Routes[i].When, &refs)
		}
	case *LoopConfig:
		scanRefs(cfg.Over, &refs)
		if cfg.While != nil {
			scanCondition(cfg.While, &refs)
		}
	case *HaltConfig:
		scanRefs(cfg.Reason, &refs)
		scanRefs(cfg.Data, &refs)
	case *ApprovalConfig:
		scanRefs(cfg.Prompt, &refs)
		scanRefs(cfg.Context, &refs)
	case *TransformConfig:
		scanRefs(cfg.Input, &refs)
	case *WorkflowConfig:
		scanRefs(cfg.Input, &refs)
	}
	return refs
}

// scanCondition collects the field root and any references in the value.
// The field accepts both the bare and the $-prefixed spelling.
func scanCondition(cond *Condition, refs *[]string) {
	if cond.Field != "" {
		*refs = append(*refs, strings.TrimPrefix(cond.Field, "$"))
	}
	scanRefs(cond.Value, refs)
}

// scanRefs walks an arbitrary config value collecting $path references.
func scanRefs(value any, refs *[]string) {
	switch v := value.(type) {
	case string:
		for _, m := range refPattern.FindAllString(v, -1) {
			*refs = append(*refs, m[1:])
		}
	case map[string]any:
		for _, item := range v {
			scanRefs(item, refs)
		}
	case []any:
		for _, item := range v {
			scanRefs(item, refs)
		}
	}
}

// forEachStep visits every step including loop bodies and parallel
// branches, depth first.
func forEachStep(steps []Step, fn func(step *Step)) {
	for i := range steps {
		step := &steps[i]
		fn(step)
		switch cfg := step.Config.(type) {
		case *LoopConfig:
			forEachStep(cfg.Do, fn)
		case *ParallelConfig:
			forEachStep(cfg.Branches, fn)
		}
	}
}

// forEachNestedScope visits each nested step sequence with its owner.
func forEachNestedScope(steps []Step, fn func(owner string, steps []Step)) {
	for i := range steps {
		step := &steps[i]
		switch cfg := step.Config.(type) {
		case *LoopConfig:
			fn(step.ID, cfg.Do)
			forEachNestedScope(cfg.Do, fn)
		case *ParallelConfig:
			fn(step.ID, cfg.Branches)
			forEachNestedScope(cfg.Branches, fn)
		}
	}
}

func union(set map[string]bool, keys []string) map[string]bool {
	out := copySet(set)
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func copySet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

// mergeInto unions src into dst, reporting whether dst changed.
func mergeInto(dst, src map[string]bool) bool {
	changed := false
	for k := range src {
		if !dst[k] {
			dst[k] = true
			changed = true
		}
	}
	return changed
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
