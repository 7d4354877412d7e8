// internal/room/codes.go
package room

import "crypto/rand"

// codeAlphabet omits 0/O/1/I so codes survive being read aloud or copied by
// hand.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const hostKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	CodeLength    = 4
	HostKeyLength = 24
)

// newRoomCode generates a candidate room code. Uniqueness against live rooms
// is the registry's job.
func newRoomCode() string {
	return randomString(codeAlphabet, CodeLength)
}

// newHostKey generates the opaque secret that proves host role for a room.
func newHostKey() string {
	return randomString(hostKeyAlphabet, HostKeyLength)
}

// randomString draws n characters uniformly from alphabet, rejecting bytes
// past the largest multiple of len(alphabet) to avoid modulo bias.
func randomString(alphabet string, n int) string {
	limit := byte(256 - 256%len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("room: crypto/rand unavailable: " + err.Error())
		}
		for _, b := range buf {
			if limit != 0 && b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
