package types

// Group is a shared ledger of expenses between members. Rows are fully
// derived from the event log and keyed by the producer-supplied id.
type Group struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedBy string        `json:"createdBy"`
	CreatedAt int64         `json:"createdAt"` // wall-clock ms
	Members   []GroupMember `json:"members,omitempty"`
}

type GroupMember struct {
	GroupID     string `json:"groupId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	JoinedAt    int64  `json:"joinedAt"` // wall-clock ms
}
