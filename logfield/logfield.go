package logfield

const (
	ConnectionID   = "connectionID"
	OrganizationID = "organizationID"
	Provider       = "provider"
	Schema         = "schema"
	TableName      = "tableName"
	Endpoint       = "endpoint"
	Chunk          = "chunk"
	Records        = "records"
	OperationID    = "operationID"
	Status         = "status"
	Error          = "error"
	Query          = "query"
	QueryTime      = "queryExecutionTime"
	SpreadsheetID  = "spreadsheetID"
	ObjectKey      = "objectKey"
)
