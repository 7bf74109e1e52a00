package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getnvoi/conveyor/pkg/errors"
)

func mustParse(t *testing.T, doc string) *Definition {
	t.Helper()
	def, err := Parse([]byte(doc))
	require.NoError(t, err)
	return def
}

func validationIssues(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Issues
}

func TestValidateValidWorkflow(t *testing.T) {
	def := mustParse(t, `
id: order-flow
steps:
  - id: init
    type: start
    next: fetch
  - id: fetch
    type: call
    service: orders
    method: get
    input:
      order_id: $input.order_id
    next: decide
  - id: decide
    type: router
    routes:
      - when:
          field: fetch.status
          op: eq
          value: open
        then: notify
    default: done
  - id: notify
    type: assign
    set:
      message: "order $input.order_id is open"
    next: done
  - id: done
    type: end
    output: $fetch
`)
	require.NoError(t, def.Validate())
}

func TestValidatePrefixedConditionField(t *testing.T) {
	// Condition fields written as references ($input.op) must scan to
	// the same root as the bare form.
	def := mustParse(t, `
id: dispatch
steps:
  - id: begin
    type: start
    next: pick
  - id: pick
    type: router
    routes:
      - when:
          field: $input.op
          op: eq
          value: add
        then: done
    default: done
  - id: done
    type: end
`)
	require.NoError(t, def.Validate())
}

func TestValidateDuplicateStepIDs(t *testing.T) {
	def := mustParse(t, `
id: dup
steps:
  - id: a
    type: start
    next: a
  - id: a
    type: end
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues, "duplicate step ID: a")
}

func TestValidateUnknownStepType(t *testing.T) {
	def := mustParse(t, `
id: bad-type
steps:
  - id: init
    type: start
    next: mystery
  - id: mystery
    type: teleport
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues, `step mystery: unknown step type "teleport"`)
}

func TestValidateBrokenReferences(t *testing.T) {
	def := mustParse(t, `
id: broken-refs
steps:
  - id: init
    type: start
    next: decide
    on_error: nowhere
  - id: decide
    type: router
    routes:
      - when:
          field: input.kind
          op: eq
          value: a
        then: ghost
    default: __FINISHED__
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues, `step init: on_error references unknown step "nowhere"`)
	assert.Contains(t, issues, `step decide: routes[0].then references unknown step "ghost"`)
}

func TestValidateFinishedIsAlwaysValidTarget(t *testing.T) {
	def := mustParse(t, `
id: finish
steps:
  - id: init
    type: start
    next: __FINISHED__
`)
	require.NoError(t, def.Validate())
}

func TestValidateReservedKeyAssignment(t *testing.T) {
	def := mustParse(t, `
id: reserved
steps:
  - id: init
    type: start
    next: poke
  - id: poke
    type: assign
    set:
      result: oops
      _secret: hidden
      fine: ok
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues, `step poke: cannot assign reserved key "result"`)
	assert.Contains(t, issues, `step poke: cannot assign engine-owned key "_secret"`)
	assert.Len(t, issues, 2)
}

func TestValidateUnreachableStep(t *testing.T) {
	def := mustParse(t, `
id: island
steps:
  - id: init
    type: start
    next: __FINISHED__
  - id: orphan
    type: end
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues, "step orphan is unreachable from the entry step")
}

func TestValidateUnassignedVariable(t *testing.T) {
	def := mustParse(t, `
id: unassigned
steps:
  - id: init
    type: start
    next: report
  - id: report
    type: end
    output: $missing.value
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues,
		`step report: reference $missing.value to variable "missing" never assigned by a preceding step`)
}

func TestValidateOptimisticBranchUnion(t *testing.T) {
	// Either route assigns a different key; a later step may reference
	// both because the walk takes the union over branches.
	def := mustParse(t, `
id: branchy
steps:
  - id: init
    type: start
    next: decide
  - id: decide
    type: router
    routes:
      - when:
          field: input.kind
          op: eq
          value: a
        then: left
    default: right
  - id: left
    type: assign
    set:
      alpha: 1
    next: join
  - id: right
    type: assign
    set:
      beta: 2
    next: join
  - id: join
    type: end
    output:
      a: $alpha
      b: $beta
`)
	require.NoError(t, def.Validate())
}

func TestValidateLoopBindings(t *testing.T) {
	def := mustParse(t, `
id: loopy
steps:
  - id: init
    type: start
    next: each
  - id: each
    type: loop
    over: $input.items
    as: row
    do:
      - id: stash
        type: assign
        set:
          seen: $row.name
      - id: use
        type: assign
        set:
          echo: $seen
    next: __FINISHED__
`)
	require.NoError(t, def.Validate())
}

func TestValidateLoopBodyUndefinedReference(t *testing.T) {
	def := mustParse(t, `
id: loopy-bad
steps:
  - id: init
    type: start
    next: each
  - id: each
    type: loop
    over: $input.items
    do:
      - id: use
        type: assign
        set:
          echo: $phantom
    next: __FINISHED__
`)
	issues := validationIssues(t, def.Validate())
	assert.Contains(t, issues,
		`step use: reference $phantom to variable "phantom" never assigned by a preceding step`)
}

func TestValidateSchemaPathMismatch(t *testing.T) {
	def := mustParse(t, `
id: schema-check
steps:
  - id: init
    type: start
    next: fetch
  - id: fetch
    type: call
    service: orders
    method: get
    output:
      key: order
      schema:
        type: object
        properties:
          id:
            type: string
          total:
            type: number
    next: done
  - id: done
    type: end
    output: $order.totl
`)
	issues := validationIssues(t, def.Validate())
	require.Len(t, issues, 1)
	assert.Equal(t,
		`step done: reference $order.totl: schema has no property "totl" (available: id, total)`,
		issues[0])
}

func TestValidateSchemaPathMatch(t *testing.T) {
	def := mustParse(t, `
id: schema-ok
steps:
  - id: init
    type: start
    next: fetch
  - id: fetch
    type: call
    service: orders
    method: get
    output:
      key: order
      schema:
        type: object
        properties:
          customer:
            type: object
            properties:
              email:
                type: string
    next: done
  - id: done
    type: end
    output: $order.customer.email
`)
	require.NoError(t, def.Validate())
}

func TestValidateCollectsAllIssues(t *testing.T) {
	def := mustParse(t, `
id: kitchen-sink
steps:
  - id: init
    type: start
    next: dup
  - id: dup
    type: assign
    set:
      result: nope
    next: gone
  - id: dup
    type: end
`)
	issues := validationIssues(t, def.Validate())
	assert.GreaterOrEqual(t, len(issues), 3)
}
