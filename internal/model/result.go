package model

// ResultSet is the shape of an engine execution result. The coordination
// layer treats it as opaque beyond serializing it across the channel.
type ResultSet struct {
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	AffectedRows int64           `json:"affected_rows"`
	LastInsertID int64           `json:"last_insert_id,omitempty"`
}
