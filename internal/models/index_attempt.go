package models

import "time"

// IndexingStatus is the lifecycle state of an index attempt.
type IndexingStatus string

const (
	IndexingStatusNotStarted IndexingStatus = "not_started"
	IndexingStatusInProgress IndexingStatus = "in_progress"
	IndexingStatusSuccess    IndexingStatus = "success"
	IndexingStatusFailed     IndexingStatus = "failed"
)

// Finished reports whether the attempt reached a terminal state.
func (s IndexingStatus) Finished() bool {
	return s == IndexingStatusSuccess || s == IndexingStatusFailed
}

// IndexAttempt records one connector run for one credential.
type IndexAttempt struct {
	ID               int64          `json:"id"`
	ConnectorID      int64          `json:"connector_id"`
	CredentialID     int64          `json:"credential_id"`
	Status           IndexingStatus `json:"status"`
	NewDocsIndexed   int            `json:"new_docs_indexed"`
	TotalDocsIndexed int            `json:"total_docs_indexed"`
	ErrorMsg         *string        `json:"error_msg"`
	TimeStarted      *time.Time     `json:"time_started"`
	TimeUpdated      time.Time      `json:"time_updated"`
	CreatedAt        time.Time      `json:"time_created"`
}

// ConnectorIndexingStatus is the backend-computed health of one connector-credential pair.
type ConnectorIndexingStatus struct {
	CCPairID           int64          `json:"cc_pair_id"`
	Name               string         `json:"name"`
	Connector          Connector      `json:"connector"`
	Credential         *Credential    `json:"credential"` // nil until a credential is linked
	Public             bool           `json:"public_doc"`
	Owner              string         `json:"owner"`
	LastStatus         IndexingStatus `json:"last_status"`
	LastSuccess        *time.Time     `json:"last_success"`
	DocsIndexed        int            `json:"docs_indexed"`
	ErrorMsg           *string        `json:"error_msg"`
	LatestIndexAttempt *IndexAttempt  `json:"latest_index_attempt"`
	IsDeletable        bool           `json:"is_deletable"`
}
