package models

// Actor is the authenticated member on whose behalf an operation runs.
type Actor struct {
	ID      OwnerID
	IsAdmin bool
}

// CanManage reports whether the actor may modify something owned by ownerID.
func (a Actor) CanManage(ownerID OwnerID) bool {
	return a.IsAdmin || a.ID == ownerID
}
