package domain

// OnUnavailable selects what an external check does when the third party
// cannot answer.
type OnUnavailable int

const (
	// Reject fails closed: the claim is denied with
	// CodeExternalServiceUnavailable.
	Reject OnUnavailable = iota
	// Accept fails open: the claim is provisionally accepted.
	Accept
)

func (p OnUnavailable) String() string {
	if p == Accept {
		return "accept"
	}
	return "reject"
}

// PostCheck is the public state of a post as reported by the social API.
type PostCheck struct {
	Exists       bool   `json:"exists"`
	PostID       string `json:"post_id"`
	AuthorHandle string `json:"author_handle,omitempty"`
	InReplyToID  string `json:"in_reply_to_id,omitempty"`
}

func (p PostCheck) IsReplyTo(targetID string) bool {
	return p.Exists && targetID != "" && p.InReplyToID == targetID
}
