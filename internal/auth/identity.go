package auth

// Identity is the already-authenticated caller of a core operation.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	Operator bool
}

// CanManage reports whether the caller may act on a resource owned by ownerID.
func (i Identity) CanManage(ownerID int64) bool {
	return i.Operator || i.UserID == ownerID
}
