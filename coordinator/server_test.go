package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"trustora/chains"
	"trustora/escrow"
	"trustora/kv"
	"trustora/models"
	"trustora/storage"
)

const (
	buyerID  int64 = 10
	sellerID int64 = 20
	adminID  int64 = 99
)

type payoutCall struct {
	escrowID uuid.UUID
	chain    chains.Chain
	address  string
	amount   string
}

type fakeSigner struct {
	nextAddress int
	payouts     []payoutCall
	payoutErr   error
}

func (f *fakeSigner) RequestAddress(ctx context.Context, chain chains.Chain) (string, error) {
	f.nextAddress++
	return fmt.Sprintf("0x%040d", f.nextAddress), nil
}

func (f *fakeSigner) SendPayout(ctx context.Context, escrowID uuid.UUID, chain chains.Chain, address, amount string) (PayoutResult, error) {
	if f.payoutErr != nil {
		return PayoutResult{}, f.payoutErr
	}
	f.payouts = append(f.payouts, payoutCall{escrowID: escrowID, chain: chain, address: address, amount: amount})
	return PayoutResult{SellerTxHash: "0xtx1", FeeTxHash: "0xtx2"}, nil
}

type fixture struct {
	server *Server
	ts     *httptest.Server
	store  *storage.Store
	signer *fakeSigner
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mr := miniredis.RunT(t)
	coord := kv.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	signer := &fakeSigner{}
	cfg := Config{
		AutoPayoutMax:  decimal.NewFromInt(200),
		AdminIDs:       map[int64]bool{adminID: true},
		PublicHashSalt: "salt",
	}
	f := &fixture{
		store:  storage.New(db),
		signer: signer,
		mr:     mr,
	}
	f.server = NewServer(cfg, f.store, coord, signer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	f.ts = httptest.NewServer(f.server.Router())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, userID int64, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (f *fixture) addEscrow(t *testing.T, status escrow.Status, amount string) *models.Escrow {
	t.Helper()
	gross := decimal.RequireFromString(amount)
	snapshot := escrow.DefaultFeeSnapshot()
	e := &models.Escrow{
		ID:             uuid.New(),
		RoomCode:       "TR-" + strings.ToUpper(uuid.NewString()[:6]),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Chain:          chains.BEP20,
		Token:          chains.TokenUSDT,
		Amount:         gross,
		FeeAmount:      snapshot.Fee(gross),
		NetAmount:      snapshot.Net(gross),
		FeeSnapshot:    snapshot,
		DepositAddress: "0x" + strings.Repeat("1", 38) + uuid.NewString()[:2],
		ReceivedAmount: gross,
		Status:         status,
	}
	if err := f.store.CreateEscrow(context.Background(), e); err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return e
}

func (f *fixture) status(t *testing.T, id uuid.UUID) escrow.Status {
	t.Helper()
	e, err := f.store.GetEscrow(context.Background(), id)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	return e.Status
}

func (f *fixture) adminSession(t *testing.T) {
	t.Helper()
	resp, _ := f.do(t, http.MethodPost, "/api/v1/admin/session", adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open admin session: %d", resp.StatusCode)
	}
}

// adminDo drives a two-tap admin action: the first request arms the confirm
// flag, the repeat goes through.
func (f *fixture) adminDo(t *testing.T, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, path, adminID, payload)
	if resp.StatusCode != http.StatusAccepted || body["confirm_required"] != true {
		t.Fatalf("first admin tap should 202 confirm, got %d %v", resp.StatusCode, body)
	}
	return f.do(t, http.MethodPost, path, adminID, payload)
}

const payoutAddr = "0x00000000000000000000000000000000000005e1"

func TestCreateEscrow(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/escrows", buyerID, map[string]any{
		"seller_id": sellerID, "chain": "BEP20", "amount": "150.50",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body %v", resp.StatusCode, body)
	}
	if body["status"] != string(escrow.StatusAwaitingDeposit) {
		t.Fatalf("escrow status = %v", body["status"])
	}
	room, _ := body["room_code"].(string)
	if !strings.HasPrefix(room, "TR-") || len(room) != 9 {
		t.Fatalf("bad room code %q", room)
	}
	if strings.Trim(room[3:], "0123456789ABCDEF") != "" {
		t.Fatalf("room code suffix must be uppercase hex, got %q", room)
	}
	if body["deposit_address"] == "" {
		t.Fatalf("no deposit address assigned")
	}
	// Over the fee threshold: 2% of 150.50.
	if body["fee"] != "3.010000" || body["net"] != "147.490000" {
		t.Fatalf("fee math wrong: fee=%v net=%v", body["fee"], body["net"])
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/escrows", buyerID, map[string]any{
		"seller_id": buyerID, "chain": "BEP20", "amount": "10",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self-deal should 400, got %d", resp.StatusCode)
	}
}

func TestFeeSnapshotFrozenAtCreation(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/v1/escrows", buyerID, map[string]any{
		"seller_id": sellerID, "chain": "TRC20", "amount": "50",
	})
	id := uuid.MustParse(body["id"].(string))

	// Raise the flat fee after creation; the live deal keeps its snapshot.
	cfg, err := f.store.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.FeeFlat = decimal.NewFromInt(50)
	if err := f.store.UpdateConfig(context.Background(), adminID, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	e, err := f.store.GetEscrow(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !e.FeeSnapshot.Flat.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("snapshot changed: %s", e.FeeSnapshot.Flat)
	}
}

func TestReleaseDoubleTapAutoPayout(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/release"
	payload := map[string]any{"payout_address": payoutAddr}

	resp, body := f.do(t, http.MethodPost, path, buyerID, payload)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first tap should 202, got %d", resp.StatusCode)
	}
	if body["confirm_required"] != true {
		t.Fatalf("first tap must demand confirmation")
	}
	if got := f.status(t, e.ID); got != escrow.StatusFundsLocked {
		t.Fatalf("first tap must not change state, got %s", got)
	}

	resp, body = f.do(t, http.MethodPost, path, buyerID, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second tap should 200, got %d body %v", resp.StatusCode, body)
	}
	if body["seller_tx_hash"] != "0xtx1" {
		t.Fatalf("payout result missing: %v", body)
	}
	if len(f.signer.payouts) != 1 {
		t.Fatalf("signer should be called once, got %d", len(f.signer.payouts))
	}
	call := f.signer.payouts[0]
	// Flat fee of 5 on a 100 deal: the seller nets 95.
	if call.amount != "95.000000" || call.address != payoutAddr {
		t.Fatalf("unexpected signer call %+v", call)
	}
	row, _ := f.store.GetEscrow(context.Background(), e.ID)
	if row.Status != escrow.StatusReleaseApproved {
		t.Fatalf("status = %s, want RELEASE_APPROVED", row.Status)
	}
	if !row.BuyerConfirmedRelease || row.AdminApproved {
		t.Fatalf("flags wrong: buyer=%v admin=%v", row.BuyerConfirmedRelease, row.AdminApproved)
	}
}

func TestReleaseRejectsSellerAndChangedAddress(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/release"

	resp, _ := f.do(t, http.MethodPost, path, sellerID, map[string]any{"payout_address": payoutAddr})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("seller release should 403, got %d", resp.StatusCode)
	}

	if resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"payout_address": payoutAddr}); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first tap should 202, got %d", resp.StatusCode)
	}
	other := "0x00000000000000000000000000000000000007e2"
	resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"payout_address": other})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("changed address should 400, got %d", resp.StatusCode)
	}
	if len(f.signer.payouts) != 0 {
		t.Fatalf("no payout should have been sent")
	}
}

func TestReleaseAboveAutoCapNeedsApproval(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "1000")
	path := "/api/v1/escrows/" + e.ID.String() + "/release"
	payload := map[string]any{"payout_address": payoutAddr}

	f.do(t, http.MethodPost, path, buyerID, payload)
	resp, body := f.do(t, http.MethodPost, path, buyerID, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second tap should 200, got %d", resp.StatusCode)
	}
	if body["approval_required"] != true {
		t.Fatalf("large payout must wait for an operator: %v", body)
	}
	if got := f.status(t, e.ID); got != escrow.StatusReleaseRequested {
		t.Fatalf("status = %s, want RELEASE_REQUESTED", got)
	}
	if len(f.signer.payouts) != 0 {
		t.Fatalf("signer must not be called before approval")
	}

	f.adminSession(t)
	resp, body = f.adminDo(t, "/api/v1/admin/escrows/"+e.ID.String()+"/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve should 200, got %d body %v", resp.StatusCode, body)
	}
	if len(f.signer.payouts) != 1 {
		t.Fatalf("signer should be called after approval")
	}
	row, _ := f.store.GetEscrow(context.Background(), e.ID)
	if !row.AdminApproved {
		t.Fatalf("admin approval flag not set")
	}
}

func TestReleaseConfirmKeyIsPerUser(t *testing.T) {
	id := uuid.New()
	a := releaseConfirmKey(buyerID, id)
	b := releaseConfirmKey(sellerID, id)
	if a == b {
		t.Fatalf("confirm key must be scoped to the user")
	}
	want := "release_confirm:" + strconv.FormatInt(buyerID, 10) + ":" + id.String()
	if a != want {
		t.Fatalf("key = %q, want %q", a, want)
	}
}

func TestAdminApproveRetriesQueuedPayout(t *testing.T) {
	f := newFixture(t)
	// A deal stuck in PAYOUT_QUEUED after an interrupted broadcast. The admin
	// approve path re-sends it without fighting the transition table.
	e := f.addEscrow(t, escrow.StatusPayoutQueued, "100")
	e.PayoutAddress = payoutAddr
	e.BuyerConfirmedRelease = true
	if err := f.store.DB().Save(e).Error; err != nil {
		t.Fatalf("save: %v", err)
	}

	f.adminSession(t)
	resp, body := f.adminDo(t, "/api/v1/admin/escrows/"+e.ID.String()+"/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve should 200, got %d body %v", resp.StatusCode, body)
	}
	if len(f.signer.payouts) != 1 {
		t.Fatalf("signer should be called once, got %d", len(f.signer.payouts))
	}
	// Flat fee of 5 on a 100 deal: the stored net amount drives the retry.
	if f.signer.payouts[0].amount != "95.000000" {
		t.Fatalf("retry amount = %s, want 95.000000", f.signer.payouts[0].amount)
	}
}

func TestAdminGatekeeping(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/admin/approvals", buyerID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin should 403, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/admin/approvals", adminID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin without session should 403, got %d", resp.StatusCode)
	}
	f.adminSession(t)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/admin/approvals", adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin with session should 200, got %d", resp.StatusCode)
	}
	// Sessions expire.
	f.mr.FastForward(601 * time.Second)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/admin/approvals", adminID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expired session should 403, got %d", resp.StatusCode)
	}
}

func TestDisputeAndResolveClose(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")

	resp, _ := f.do(t, http.MethodPost, "/api/v1/escrows/"+e.ID.String()+"/dispute", sellerID,
		map[string]any{"reason": "buyer unreachable"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispute should 200, got %d", resp.StatusCode)
	}
	if got := f.status(t, e.ID); got != escrow.StatusDisputed {
		t.Fatalf("status = %s, want DISPUTED", got)
	}

	f.adminSession(t)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/admin/escrows/"+e.ID.String()+"/resolve", adminID,
		map[string]any{"action": "close", "resolution": "no payment arrived"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve should 200, got %d", resp.StatusCode)
	}
	if got := f.status(t, e.ID); got != escrow.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
	if _, err := f.store.OpenDispute(context.Background(), e.ID); err == nil {
		t.Fatalf("dispute should be resolved")
	}
}

func TestDisputeResolveApprovePaysOut(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")
	e.PayoutAddress = payoutAddr
	if err := f.store.DB().Save(e).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	f.do(t, http.MethodPost, "/api/v1/escrows/"+e.ID.String()+"/dispute", buyerID,
		map[string]any{"reason": "seller silent"})

	f.adminSession(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/admin/escrows/"+e.ID.String()+"/resolve", adminID,
		map[string]any{"action": "approve", "resolution": "goods delivered"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve should 200, got %d body %v", resp.StatusCode, body)
	}
	if len(f.signer.payouts) != 1 {
		t.Fatalf("approve must pay out")
	}
}

func TestChatRulesAndRateLimit(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/chat"

	resp, _ := f.do(t, http.MethodPost, path, buyerID, map[string]any{"body": "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("message should 201, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"body": "pay here https://evil.example"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("link should 400, got %d", resp.StatusCode)
	}
	for i := 0; i < 9; i++ {
		f.do(t, http.MethodPost, path, buyerID, map[string]any{"body": fmt.Sprintf("msg %d", i)})
	}
	resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"body": "one too many"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("11th message in a minute should 429, got %d", resp.StatusCode)
	}

	// Outsiders cannot read the room.
	resp, _ = f.do(t, http.MethodGet, path, 777, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("outsider should 404, got %d", resp.StatusCode)
	}

	// Frozen chat rejects new messages.
	f.adminSession(t)
	f.adminDo(t, "/api/v1/admin/escrows/"+e.ID.String()+"/freeze",
		map[string]any{"frozen": true})
	resp, _ = f.do(t, http.MethodPost, path, sellerID, map[string]any{"body": "still there?"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("frozen chat should 403, got %d", resp.StatusCode)
	}
}

func TestReviewFlow(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusPayoutSent, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/review"

	resp, _ := f.do(t, http.MethodPost, path, sellerID, map[string]any{"rating": 5})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("seller review should 403, got %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, path, buyerID, map[string]any{"rating": 5, "body": "fast and smooth"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("review should 201, got %d body %v", resp.StatusCode, body)
	}
	post, _ := body["post"].(string)
	if strings.Contains(post, e.RoomCode) {
		t.Fatalf("post leaks the room code: %s", post)
	}
	if got := f.status(t, e.ID); got != escrow.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/users/"+strconv.FormatInt(sellerID, 10)+"/reviews", buyerID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review feed should 200, got %d", resp.StatusCode)
	}
}

func TestChatImagesOnlyWhileDisputed(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/chat"

	resp, _ := f.do(t, http.MethodPost, path, buyerID, map[string]any{"kind": "image", "body": "file:abc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("image on a live deal should 400, got %d", resp.StatusCode)
	}

	f.do(t, http.MethodPost, "/api/v1/escrows/"+e.ID.String()+"/dispute", buyerID,
		map[string]any{"reason": "wrong item"})
	resp, body := f.do(t, http.MethodPost, path, buyerID, map[string]any{"kind": "image", "body": "file:abc"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("image on a disputed deal should 201, got %d %v", resp.StatusCode, body)
	}
	if body["kind"] != "image" {
		t.Fatalf("kind = %v", body["kind"])
	}

	resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"kind": "sticker", "body": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind should 400, got %d", resp.StatusCode)
	}
}

func TestReviewScreensText(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusPayoutSent, "100")
	path := "/api/v1/escrows/" + e.ID.String() + "/review"

	resp, _ := f.do(t, http.MethodPost, path, buyerID,
		map[string]any{"rating": 1, "body": "refund me via https://evil.example"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("link in review should 400, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, path, buyerID,
		map[string]any{"rating": 1, "body": "total scam"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("flagged word should 400, got %d", resp.StatusCode)
	}
	if got := f.status(t, e.ID); got != escrow.StatusPayoutSent {
		t.Fatalf("rejected review must not move the deal, got %s", got)
	}
	resp, _ = f.do(t, http.MethodPost, path, buyerID, map[string]any{"rating": 4, "body": "all fine"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("clean review should 201, got %d", resp.StatusCode)
	}
}

func TestAdminSearchAndAudit(t *testing.T) {
	f := newFixture(t)
	e := f.addEscrow(t, escrow.StatusFundsLocked, "100")

	rows, err := f.store.FindEscrows(context.Background(), e.RoomCode, 10)
	if err != nil || len(rows) != 1 || rows[0].ID != e.ID {
		t.Fatalf("room code search: rows=%d err=%v", len(rows), err)
	}
	rows, err = f.store.FindEscrows(context.Background(), strconv.FormatInt(buyerID, 10), 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("participant search: rows=%d err=%v", len(rows), err)
	}
	rows, err = f.store.FindEscrows(context.Background(), e.ID.String(), 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("id search: rows=%d err=%v", len(rows), err)
	}

	f.adminSession(t)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/admin/escrows?q="+e.RoomCode, adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search should 200, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/admin/escrows", adminID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing query should 400, got %d", resp.StatusCode)
	}
	// Opening the session wrote an audit row.
	resp, _ = f.do(t, http.MethodGet, "/api/v1/admin/audit", adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit trail should 200, got %d", resp.StatusCode)
	}
}

func TestBroadcastOptInAndAnnounce(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.GetOrCreateUser(context.Background(), buyerID, "U#1111"); err != nil {
		t.Fatalf("user: %v", err)
	}
	resp, _ := f.do(t, http.MethodPost, "/api/v1/me/broadcast", sellerID, map[string]any{"opt_in": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("opt-out should 200, got %d", resp.StatusCode)
	}

	f.adminSession(t)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/admin/broadcast", adminID, map[string]any{"text": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty announcement should 400, got %d", resp.StatusCode)
	}
	resp, body := f.adminDo(t, "/api/v1/admin/broadcast", map[string]any{"text": "maintenance at 02:00 UTC"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("broadcast should 200, got %d %v", resp.StatusCode, body)
	}
	// Buyer and the operator remain opted in; the seller muted announcements.
	if body["recipients"] != float64(2) {
		t.Fatalf("recipients = %v, want 2", body["recipients"])
	}
}

func TestBlockedUserIsRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.GetOrCreateUser(context.Background(), buyerID, "U#0001"); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := f.store.SetUserBlocked(context.Background(), buyerID, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	resp, _ := f.do(t, http.MethodGet, "/api/v1/escrows", buyerID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("blocked user should 403, got %d", resp.StatusCode)
	}
}
