// Package reviews renders completed deals into public feedback posts without
// leaking participant identities or exact deal details.
package reviews

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"trustora/chains"
)

// PublicHash derives a user's stable public pseudonym from their internal ID
// and the platform salt.
func PublicHash(userID int64, salt string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", userID, salt)))
	return "U#" + strings.ToUpper(hex.EncodeToString(sum[:])[:4])
}

// MaskRoomCode keeps the prefix and first two characters of a room code and
// hides the rest.
func MaskRoomCode(code string) string {
	const visible = 5 // "TR-" plus two characters
	if len(code) <= visible {
		return code
	}
	return code[:visible] + strings.Repeat("*", len(code)-visible)
}

// AmountBucket maps an exact deal amount to a coarse public range.
func AmountBucket(amount decimal.Decimal) string {
	switch {
	case amount.LessThan(decimal.NewFromInt(100)):
		return "under 100 USDT"
	case amount.LessThan(decimal.NewFromInt(500)):
		return "100-500 USDT"
	case amount.LessThan(decimal.NewFromInt(1000)):
		return "500-1000 USDT"
	default:
		return "over 1000 USDT"
	}
}

// Post is a review prepared for publication.
type Post struct {
	AuthorHash  string
	SubjectHash string
	RoomCode    string
	Chain       chains.Chain
	Bucket      string
	Rating      int
	Body        string
}

// BuildPost assembles the public form of a review.
func BuildPost(authorID, subjectID int64, salt, roomCode string, chain chains.Chain, amount decimal.Decimal, rating int, body string) Post {
	return Post{
		AuthorHash:  PublicHash(authorID, salt),
		SubjectHash: PublicHash(subjectID, salt),
		RoomCode:    MaskRoomCode(roomCode),
		Chain:       chain,
		Bucket:      AmountBucket(amount),
		Rating:      rating,
		Body:        body,
	}
}

// Render formats the post for the public feed.
func (p Post) Render() string {
	stars := strings.Repeat("★", p.Rating) + strings.Repeat("☆", 5-p.Rating)
	var b strings.Builder
	fmt.Fprintf(&b, "%s about %s\n", p.AuthorHash, p.SubjectHash)
	fmt.Fprintf(&b, "Deal %s on %s, %s\n", p.RoomCode, p.Chain, p.Bucket)
	fmt.Fprintf(&b, "%s\n", stars)
	if p.Body != "" {
		fmt.Fprintf(&b, "%s\n", p.Body)
	}
	return b.String()
}
