package sddl

import "github.com/gravitational/libadcs/internal/sid"

// HasObjectPermission evaluates whether the DACL grants the extended right
// identified by objectType to whatever principal identify recognizes (spec
// §4.2). The DACL is walked in order, maintaining a running boolean: a
// matching AccessAllowedObject ACE sets it true, a matching
// AccessDeniedObject ACE sets it false, and every other ACE (including
// non-matching object ACEs and all non-object ACE types) leaves it
// unchanged. The final value after the full walk is returned.
//
// identify is supplied by the caller and typically tests SID equality to
// the caller's own SID, falling back to a transitive group-membership
// query (spec §4.3's matching-rule-1941 filter); this function does not
// cache identify's results — that is the caller's responsibility.
func (sd *SecurityDescriptor) HasObjectPermission(objectType GUID, identify func(sid.SID) bool) bool {
	if sd.DACL == nil {
		return false
	}
	var granted bool
	for _, ace := range sd.DACL.ACEs {
		switch ace.Type {
		case AceTypeAccessAllowedObject:
			if matchesObjectType(ace, objectType) && identify(ace.Subject) {
				granted = true
			}
		case AceTypeAccessDeniedObject:
			if matchesObjectType(ace, objectType) && identify(ace.Subject) {
				granted = false
			}
		default:
			// Non-object ACE types don't grant or deny this specific
			// extended right.
		}
	}
	return granted
}

func matchesObjectType(ace ACE, objectType GUID) bool {
	// The requested extended right matches when either of the ACE's GUIDs
	// names it; an object ACE carrying neither GUID constrains no specific
	// right and never matches.
	if ace.ObjectType != nil && *ace.ObjectType == objectType {
		return true
	}
	return ace.InheritedObjectType != nil && *ace.InheritedObjectType == objectType
}
