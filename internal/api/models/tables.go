package models

import "github.com/pm25forecast/pm25forecast/internal/storage"

// TableList is the body of GET /v1/tables.
type TableList struct {
	Tables []storage.TableSummary `json:"tables"`
}

// TableDetail is the body of GET /v1/tables/{name}.
type TableDetail struct {
	Name    string               `json:"name"`
	Rows    int                  `json:"rows"`
	Columns []storage.ColumnInfo `json:"columns"`
}

// QueryResult is one page of a query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Meta    PageMeta `json:"meta"`
}

// PageMeta contains pagination metadata.
type PageMeta struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}
