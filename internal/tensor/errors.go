package tensor

import "errors"

// Error kinds surfaced by the graph and kernel layers. All failures are
// synchronous and non-recoverable in place: the detecting call aborts and
// wraps one of these sentinels so callers can classify with errors.Is.
var (
	// ErrShapeMismatch: operand shapes cannot broadcast, or a feature row
	// count disagrees with the node/edge count it is bound to.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDtypeMismatch: operands do not share a dtype or index width.
	ErrDtypeMismatch = errors.New("dtype mismatch")

	// ErrDeviceMismatch: operands are not co-located on one device.
	ErrDeviceMismatch = errors.New("device mismatch")

	// ErrTypeNotFound: unknown node/edge type name, or a bare relation name
	// that resolves to more than one canonical triple.
	ErrTypeNotFound = errors.New("type not found")

	// ErrIndexOutOfRange: node/edge ID beyond the dense valid range.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrStructuralMutation: disallowed structural edit of a graph.
	ErrStructuralMutation = errors.New("structural mutation not allowed")

	// ErrFieldMismatch: message output field does not feed the reduce
	// function's input field.
	ErrFieldMismatch = errors.New("field mismatch")
)
