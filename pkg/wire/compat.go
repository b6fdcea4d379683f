package wire

import "fmt"

// The authentication information body exists in two layouts. The legacy
// one predates LE IO capabilities and has no flags word. Both are
// accepted on input and told apart by size alone; output always uses the
// current layout unless a caller asks for legacy explicitly.

type authLayout struct {
	legacy bool
	flags  bool
}

const (
	// address(8) + action(4) + data length(4) + union
	authInfoLegacySize  = 8 + 4 + 4 + authDataUnionSize
	authInfoCurrentSize = authInfoLegacySize + 4
)

var authLayouts = map[int]authLayout{
	authInfoCurrentSize: {legacy: false, flags: true},
	authInfoLegacySize:  {legacy: true, flags: false},
}

func authLayoutForBody(n int) (authLayout, error) {
	l, ok := authLayouts[n]
	if !ok {
		return authLayout{}, fmt.Errorf("%w: authentication information of %d bytes", ErrLengthMismatch, n)
	}
	return l, nil
}

// AuthMessageSizes returns the total message sizes of the current and
// legacy authentication layouts.
func AuthMessageSizes() (current, legacy int) {
	return HeaderSize + authInfoCurrentSize, HeaderSize + authInfoLegacySize
}

func encodeLegacyAuthInfo(e *encoder, a *AuthenticationInformation) {
	start := len(e.buf)
	encodeAuthInfo(e, a)
	e.buf = e.buf[:start+authInfoLegacySize]
}
