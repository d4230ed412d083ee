package ledger

// Operation names reported to OperationLogger implementations.
const (
	OperationOpenAccount          = "open_account"
	OperationDeposit              = "deposit"
	OperationRegisterCreditSource = "register_credit_source"
	OperationRenameCreditSource   = "rename_credit_source"
	OperationAdjustCreditSource   = "adjust_credit_source"
	OperationRemoveCreditSource   = "remove_credit_source"
	OperationCreateListing        = "create_listing"
	OperationUpdateListing        = "update_listing"
	OperationCloseListing         = "close_listing"
	OperationPurchase             = "purchase"
	OperationConsume              = "consume"
	OperationExhaustGrant         = "exhaust_grant"
	OperationConsumeOwned         = "consume_owned"
)

const (
	operationStatusOK    = "ok"
	operationStatusError = "error"

	tracerName = "github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
)
