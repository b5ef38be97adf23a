package sddl_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/sddl"
	"github.com/gravitational/libadcs/internal/sid"
)

// buildObjectACEWithGUIDs constructs the on-wire bytes for an
// AccessAllowedObject or AccessDeniedObject ACE carrying the given subject
// and whichever of the two optional GUIDs are non-nil, setting the matching
// presence flags.
func buildObjectACEWithGUIDs(t *testing.T, aceType sddl.AceType, objType, inheritedType *sddl.GUID, subject sid.SID) []byte {
	t.Helper()
	body := make([]byte, 0, 8+32+28)
	mask := make([]byte, 4)
	binary.LittleEndian.PutUint32(mask, 0x1 /* fake ENROLL-like bit */)
	body = append(body, mask...)
	var objFlags uint32
	if objType != nil {
		objFlags |= 0x1 // ACE_OBJECT_TYPE_PRESENT
	}
	if inheritedType != nil {
		objFlags |= 0x2 // ACE_INHERITED_OBJECT_TYPE_PRESENT
	}
	flags := make([]byte, 4)
	binary.LittleEndian.PutUint32(flags, objFlags)
	body = append(body, flags...)
	if objType != nil {
		body = append(body, objType[:]...)
	}
	if inheritedType != nil {
		body = append(body, inheritedType[:]...)
	}
	body = append(body, subject.Bytes()...)

	header := make([]byte, 4)
	header[0] = byte(aceType)
	header[1] = 0
	binary.LittleEndian.PutUint16(header[2:4], uint16(4+len(body)))
	return append(header, body...)
}

func buildObjectACE(t *testing.T, aceType sddl.AceType, objType sddl.GUID, subject sid.SID) []byte {
	t.Helper()
	return buildObjectACEWithGUIDs(t, aceType, &objType, nil, subject)
}

func buildSelfRelativeSD(t *testing.T, owner, group sid.SID, daclACEs [][]byte) []byte {
	t.Helper()
	ownerB := owner.Bytes()
	groupB := group.Bytes()

	var daclBody []byte
	for _, ace := range daclACEs {
		daclBody = append(daclBody, ace...)
	}
	daclHeader := make([]byte, 8)
	daclHeader[0] = 4 // ACL revision
	binary.LittleEndian.PutUint16(daclHeader[2:4], uint16(8+len(daclBody)))
	binary.LittleEndian.PutUint16(daclHeader[4:6], uint16(len(daclACEs)))
	dacl := append(daclHeader, daclBody...)

	header := make([]byte, 20)
	header[0] = 1 // revision
	binary.LittleEndian.PutUint16(header[2:4], 0x8004) // self-relative | dacl-present
	ownerOff := uint32(20)
	groupOff := ownerOff + uint32(len(ownerB))
	saclOff := uint32(0)
	daclOff := groupOff + uint32(len(groupB))
	binary.LittleEndian.PutUint32(header[4:8], ownerOff)
	binary.LittleEndian.PutUint32(header[8:12], groupOff)
	binary.LittleEndian.PutUint32(header[12:16], saclOff)
	binary.LittleEndian.PutUint32(header[16:20], daclOff)

	buf := append(header, ownerB...)
	buf = append(buf, groupB...)
	buf = append(buf, dacl...)
	return buf
}

func TestHasObjectPermission(t *testing.T) {
	authority := [6]byte{0, 0, 0, 0, 0, 5}
	owner := sid.New(authority, 32, 544)
	group := sid.New(authority, 32, 545)
	subjectS := sid.New(authority, 21, 1, 2, 3, 1001)
	subjectT := sid.New(authority, 21, 1, 2, 3, 1002)
	objType := sddl.EnrollRight

	aceAllow := buildObjectACE(t, sddl.AceTypeAccessAllowedObject, objType, subjectS)
	aceDeny := buildObjectACE(t, sddl.AceTypeAccessDeniedObject, objType, subjectT)

	raw := buildSelfRelativeSD(t, owner, group, [][]byte{aceAllow, aceDeny})
	sd, err := sddl.Parse(raw)
	require.NoError(t, err)

	identify := func(matchS, matchT bool) func(sid.SID) bool {
		return func(s sid.SID) bool {
			return (matchS && s.Equal(subjectS)) || (matchT && s.Equal(subjectT))
		}
	}

	// Only S matches -> allowed.
	require.True(t, sd.HasObjectPermission(objType, identify(true, false)))
	// Only T matches -> no allow ever fired, so false.
	require.False(t, sd.HasObjectPermission(objType, identify(false, true)))
	// Both match -> deny ACE processed after allow, so false.
	require.False(t, sd.HasObjectPermission(objType, identify(true, true)))
	// Neither matches -> false.
	require.False(t, sd.HasObjectPermission(objType, identify(false, false)))
}

func TestHasObjectPermissionNoGUIDsNeverMatches(t *testing.T) {
	authority := [6]byte{0, 0, 0, 0, 0, 5}
	owner := sid.New(authority, 32, 544)
	group := sid.New(authority, 32, 545)
	subject := sid.New(authority, 21, 1, 2, 3, 1001)

	// An object ACE carrying neither GUID constrains no specific extended
	// right, so it must not grant one even to a matching subject.
	ace := buildObjectACEWithGUIDs(t, sddl.AceTypeAccessAllowedObject, nil, nil, subject)
	raw := buildSelfRelativeSD(t, owner, group, [][]byte{ace})
	sd, err := sddl.Parse(raw)
	require.NoError(t, err)

	require.False(t, sd.HasObjectPermission(sddl.EnrollRight, func(s sid.SID) bool {
		return s.Equal(subject)
	}))
}

func TestHasObjectPermissionMatchesViaInheritedObjectType(t *testing.T) {
	authority := [6]byte{0, 0, 0, 0, 0, 5}
	owner := sid.New(authority, 32, 544)
	group := sid.New(authority, 32, 545)
	subject := sid.New(authority, 21, 1, 2, 3, 1001)

	inherited := sddl.EnrollRight
	ace := buildObjectACEWithGUIDs(t, sddl.AceTypeAccessAllowedObject, nil, &inherited, subject)
	raw := buildSelfRelativeSD(t, owner, group, [][]byte{ace})
	sd, err := sddl.Parse(raw)
	require.NoError(t, err)

	require.True(t, sd.HasObjectPermission(sddl.EnrollRight, func(s sid.SID) bool {
		return s.Equal(subject)
	}))
	require.False(t, sd.HasObjectPermission(sddl.AutoEnrollRight, func(s sid.SID) bool {
		return s.Equal(subject)
	}))
}

func TestParseRejectsNonSelfRelative(t *testing.T) {
	authority := [6]byte{0, 0, 0, 0, 0, 5}
	owner := sid.New(authority, 32, 544)
	group := sid.New(authority, 32, 545)
	raw := buildSelfRelativeSD(t, owner, group, nil)
	binary.LittleEndian.PutUint16(raw[2:4], 0x0004) // clear self-relative bit
	_, err := sddl.Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	_, err := sddl.Parse([]byte{1, 0, 0, 0})
	require.Error(t, err)
}

func TestGUIDRoundTrip(t *testing.T) {
	const s = "0e10c968-78fb-11d2-90d4-00c04f79dc55"
	g, err := sddl.ParseGUID(s)
	require.NoError(t, err)
	require.Equal(t, s, g.String())
	require.Equal(t, sddl.EnrollRight, g)
}
