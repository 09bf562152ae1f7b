package log

// Common field names for structured logging.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldOwnerID     = "owner_id"
	FieldSheetID     = "sheet_id"
	FieldEntryID     = "entry_id"
	FieldDate        = "date"
	FieldMonth       = "month"
	FieldCategory    = "category"
	FieldOldName     = "old_name"
	FieldNewName     = "new_name"
	FieldColumn      = "column"
	FieldAmountCents = "amount_cents"
	FieldRemoved     = "removed"
)

// Components defines standard component names.
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentGrid    = "grid"
	ComponentStorage = "storage"
	ComponentAccess  = "access"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentMirror  = "mirror"
	ComponentCache   = "cache"
)

// Operations defines standard operation names.
const (
	OpCreate  = "create"
	OpUpsert  = "upsert"
	OpRename  = "rename"
	OpDelete  = "delete"
	OpList    = "list"
	OpDedup   = "deduplicate"
	OpRewrite = "rewrite_category"
	OpMirror  = "mirror"
	OpSweep   = "sweep"
)
