// Package errors provides structured error handling with gRPC status bridging.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Entity errors
	CodeEntityUIDEmpty  Code = "ENTITY_UID_EMPTY"
	CodeDuplicateUID    Code = "ENTITY_DUPLICATE_UID"
	CodeEntityNotFound  Code = "ENTITY_NOT_FOUND"
	CodeEntityBadAttr   Code = "ENTITY_INVALID_ATTRIBUTE"
	CodeEntityDecode    Code = "ENTITY_DECODE_FAILED"
	CodeEntityWrongKind Code = "ENTITY_WRONG_KIND"

	// Graph errors
	CodeDanglingReference  Code = "GRAPH_DANGLING_REFERENCE"
	CodeGraphNotAttached   Code = "GRAPH_ENTITY_NOT_ATTACHED"
	CodeSubgraphMemberLoop Code = "GRAPH_SUBGRAPH_MEMBER_LOOP"

	// Dispatch errors
	CodeHandlerNameEmpty Code = "DISPATCH_HANDLER_NAME_EMPTY"
	CodeHandlerTaskEmpty Code = "DISPATCH_HANDLER_TASK_EMPTY"
	CodeHandlerFnMissing Code = "DISPATCH_HANDLER_FN_MISSING"
	CodeHandlerError     Code = "DISPATCH_HANDLER_ERROR"

	// Requirement/provision errors
	CodeRequirementIDEmpty     Code = "RESOLVE_REQUIREMENT_ID_EMPTY"
	CodeRequirementDecode      Code = "RESOLVE_REQUIREMENT_DECODE_FAILED"
	CodeUnsatisfiedRequirement Code = "RESOLVE_UNSATISFIED_REQUIREMENT"
	CodeTemplateBuildFailed    Code = "RESOLVE_TEMPLATE_BUILD_FAILED"

	// Cursor errors
	CodePredicateFailure Code = "CURSOR_PREDICATE_FAILURE"
	CodeInvalidChoice    Code = "CURSOR_INVALID_CHOICE"
	CodeStepTimeout      Code = "CURSOR_STEP_TIMEOUT"

	// Ledger/replay errors
	CodeLedgerClosed      Code = "LEDGER_CLOSED"
	CodePatchKindUnknown  Code = "LEDGER_PATCH_KIND_UNKNOWN"
	CodeReplayCorruption  Code = "REPLAY_CORRUPTION"
	CodeChainHashMismatch Code = "REPLAY_CHAIN_HASH_MISMATCH"

	// Session errors
	CodeLeaseHeld       Code = "SESSION_LEASE_HELD"
	CodeSessionKeyEmpty Code = "SESSION_KEY_EMPTY"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// App errors
	CodeGraphExists    Code = "APP_GRAPH_EXISTS"
	CodeGraphRecording Code = "APP_GRAPH_ALREADY_RECORDING"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEntityUIDEmpty,
		CodeEntityBadAttr,
		CodeEntityWrongKind,
		CodeHandlerNameEmpty,
		CodeHandlerTaskEmpty,
		CodeHandlerFnMissing,
		CodeRequirementIDEmpty,
		CodeSessionKeyEmpty,
		CodeInvalidChoice:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodePredicateFailure,
		CodeGraphNotAttached,
		CodeSubgraphMemberLoop,
		CodeLedgerClosed,
		CodeLeaseHeld:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeEntityNotFound,
		CodeDanglingReference:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeDuplicateUID,
		CodeGraphExists,
		CodeGraphRecording:
		return codes.AlreadyExists

	// DeadlineExceeded - step budget exhausted
	case CodeStepTimeout:
		return codes.DeadlineExceeded

	// DataLoss - the ledger cannot be trusted
	case CodeReplayCorruption,
		CodeChainHashMismatch,
		CodeEntityDecode,
		CodeRequirementDecode,
		CodePatchKindUnknown:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}
