package domain

// SubjectType differentiates token subjects. Only staff authenticate; the
// classify endpoint is anonymous by session.
type SubjectType string

const SubjectTypeStaff SubjectType = "STAFF"
