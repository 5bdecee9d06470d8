package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Chains:         []config.ChainConfig{{ID: 11155111, Name: "sepolia", RPCURL: "https://rpc.sepolia.org"}},
		PlatformFeeBPS: 100,
	}
}

type roomFixture struct {
	svc    *RoomService
	rooms  *memRoomStore
	escrow *memEscrowStore
	pub    *memPublisher
	audit  *memAuditStore
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	rooms := newMemRoomStore()
	escrow := &memEscrowStore{}
	pub := &memPublisher{}
	audit := &memAuditStore{}
	svc := NewRoomService(
		rooms, escrow, &memDisputeStore{}, audit,
		NewKeccakDepositProvider(), pub, testConfig(), zap.NewNop(),
	)
	return &roomFixture{svc: svc, rooms: rooms, escrow: escrow, pub: pub, audit: audit}
}

// setupNegotiated drives two users through create/join/role selection and
// returns the room at AMOUNT_AGREEMENT.
func setupNegotiated(t *testing.T, f *roomFixture) (room *models.Room, sender, receiver uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	sender = uuid.New()
	receiver = uuid.New()

	room, err := f.svc.CreateRoom(ctx, sender, "laptop sale", 11155111)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Step != models.StepWaitingForPeer {
		t.Fatalf("step = %s, want %s", room.Step, models.StepWaitingForPeer)
	}
	if len(room.Code) != joinCodeLength {
		t.Fatalf("code length = %d, want %d", len(room.Code), joinCodeLength)
	}

	room, err = f.svc.JoinByCode(ctx, receiver, room.Code)
	if err != nil {
		t.Fatalf("JoinByCode: %v", err)
	}
	if room.Step != models.StepRoleSelection {
		t.Fatalf("step after join = %s, want %s", room.Step, models.StepRoleSelection)
	}

	if _, err = f.svc.SelectRole(ctx, sender, room.ID, models.RoleSender); err != nil {
		t.Fatalf("SelectRole(sender): %v", err)
	}
	room, err = f.svc.SelectRole(ctx, receiver, room.ID, models.RoleReceiver)
	if err != nil {
		t.Fatalf("SelectRole(receiver): %v", err)
	}
	if room.Step != models.StepAmountAgreement {
		t.Fatalf("step after roles = %s, want %s", room.Step, models.StepAmountAgreement)
	}
	if room.SenderUserID == nil || *room.SenderUserID != sender {
		t.Fatal("sender user id not pinned on room")
	}
	return room, sender, receiver
}

func TestRoomWorkflowHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)

	room, err := f.svc.ProposeAmount(ctx, sender, room.ID, "1000000000000000000")
	if err != nil {
		t.Fatalf("ProposeAmount: %v", err)
	}
	if room.Amount == nil || *room.Amount != "1000000000000000000" {
		t.Fatal("amount not recorded")
	}

	room, err = f.svc.ConfirmAmount(ctx, receiver, room.ID, true)
	if err != nil {
		t.Fatalf("ConfirmAmount: %v", err)
	}
	if room.Step != models.StepFeeSelection {
		t.Fatalf("step = %s, want %s", room.Step, models.StepFeeSelection)
	}

	room, err = f.svc.SelectFeePayer(ctx, sender, room.ID, models.FeePayerSplit)
	if err != nil {
		t.Fatalf("SelectFeePayer: %v", err)
	}

	room, err = f.svc.ConfirmFee(ctx, receiver, room.ID, true)
	if err != nil {
		t.Fatalf("ConfirmFee: %v", err)
	}
	if room.Step != models.StepAwaitingDeposit {
		t.Fatalf("step = %s, want %s", room.Step, models.StepAwaitingDeposit)
	}
	if room.EscrowAddress == nil || !strings.HasPrefix(*room.EscrowAddress, "0x") {
		t.Fatal("escrow address not assigned")
	}
	if len(f.escrow.mirrors) != 1 {
		t.Fatalf("mirrors = %d, want 1", len(f.escrow.mirrors))
	}
	if f.escrow.mirrors[0].Status != models.EscrowStatusAwaitingDeposit {
		t.Fatalf("mirror status = %s", f.escrow.mirrors[0].Status)
	}

	// Deposit observed on chain; the indexer moves the room to funded.
	f.rooms.setStep(room.ID, models.StepFunded)

	if _, err = f.svc.ConfirmRelease(ctx, sender, room.ID); err != nil {
		t.Fatalf("ConfirmRelease(sender): %v", err)
	}
	room, err = f.svc.ConfirmRelease(ctx, receiver, room.ID)
	if err != nil {
		t.Fatalf("ConfirmRelease(receiver): %v", err)
	}
	if room.Step != models.StepReleasing {
		t.Fatalf("step = %s, want %s", room.Step, models.StepReleasing)
	}

	if len(f.pub.byType(events.EventRoomUpdated)) == 0 {
		t.Fatal("no room_updated events published")
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)

	if _, err := f.svc.CreateRoom(ctx, uuid.New(), "x", 999); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("unknown chain: got %v, want validation error", err)
	}
	if _, err := f.svc.CreateRoom(ctx, uuid.New(), "", 11155111); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("empty name: got %v, want validation error", err)
	}
}

func TestJoinGuards(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	creator := uuid.New()

	room, err := f.svc.CreateRoom(ctx, creator, "room", 11155111)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.JoinByCode(ctx, uuid.New(), "NOSUCHCD"); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("bad code: got %v, want not found", err)
	}
	if _, err := f.svc.JoinByCode(ctx, creator, room.Code); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("self join: got %v, want conflict", err)
	}

	if _, err := f.svc.JoinByCode(ctx, uuid.New(), room.Code); err != nil {
		t.Fatal(err)
	}
	// Third participant arrives after the room already moved on.
	if _, err := f.svc.JoinByCode(ctx, uuid.New(), room.Code); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("full room: got %v, want conflict", err)
	}
}

func TestSelectRoleGuards(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	a := uuid.New()
	b := uuid.New()

	room, _ := f.svc.CreateRoom(ctx, a, "room", 11155111)
	room, _ = f.svc.JoinByCode(ctx, b, room.Code)

	if _, err := f.svc.SelectRole(ctx, a, room.ID, "arbiter"); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("bad role: got %v, want validation error", err)
	}
	if _, err := f.svc.SelectRole(ctx, uuid.New(), room.ID, models.RoleSender); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("outsider: got %v, want unauthorized", err)
	}

	if _, err := f.svc.SelectRole(ctx, a, room.ID, models.RoleSender); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SelectRole(ctx, b, room.ID, models.RoleSender); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("taken role: got %v, want validation error", err)
	}
	if _, err := f.svc.SelectRole(ctx, a, room.ID, models.RoleReceiver); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("second pick: got %v, want validation error", err)
	}
}

func TestAmountGuards(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)

	if _, err := f.svc.ProposeAmount(ctx, receiver, room.ID, "100"); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("receiver proposes: got %v, want unauthorized", err)
	}
	for _, bad := range []string{"", "0", "-5", "1.5", "1e18", "00x"} {
		if _, err := f.svc.ProposeAmount(ctx, sender, room.ID, bad); !apperr.IsCode(err, apperr.CodeValidation) {
			t.Fatalf("amount %q: got %v, want validation error", bad, err)
		}
	}
	if _, err := f.svc.ConfirmAmount(ctx, receiver, room.ID, true); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("confirm before proposal: got %v, want sequence error", err)
	}

	if _, err := f.svc.ProposeAmount(ctx, sender, room.ID, "500"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAmount(ctx, sender, room.ID, true); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("sender confirms: got %v, want unauthorized", err)
	}

	// Rejection clears the proposal and stays at the same step.
	room, err := f.svc.ConfirmAmount(ctx, receiver, room.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if room.Step != models.StepAmountAgreement || room.Amount != nil {
		t.Fatalf("after rejection: step=%s amount=%v", room.Step, room.Amount)
	}
}

func TestFeeRejectionClearsSelection(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)

	if _, err := f.svc.ProposeAmount(ctx, sender, room.ID, "100"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAmount(ctx, receiver, room.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmFee(ctx, receiver, room.ID, true); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("confirm before selection: got %v, want sequence error", err)
	}
	if _, err := f.svc.SelectFeePayer(ctx, sender, room.ID, models.FeePayerSender); err != nil {
		t.Fatal(err)
	}

	room, err := f.svc.ConfirmFee(ctx, receiver, room.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if room.Step != models.StepFeeSelection || room.FeePayer != nil {
		t.Fatalf("after rejection: step=%s feePayer=%v", room.Step, room.FeePayer)
	}
	if len(f.escrow.mirrors) != 0 {
		t.Fatal("mirror created on rejection")
	}
}

func TestStepSequenceEnforced(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, _ := setupNegotiated(t, f)

	// Fee selection is two steps ahead of where the room actually is.
	if _, err := f.svc.SelectFeePayer(ctx, sender, room.ID, models.FeePayerSplit); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("got %v, want sequence error", err)
	}
	if _, err := f.svc.ConfirmRelease(ctx, sender, room.ID); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("release before funded: got %v, want sequence error", err)
	}
}

func TestConcurrentRoleSelectionOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	a := uuid.New()
	b := uuid.New()

	room, _ := f.svc.CreateRoom(ctx, a, "room", 11155111)
	room, _ = f.svc.JoinByCode(ctx, b, room.Code)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(i int, uid uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.SelectRole(ctx, uid, room.ID, models.RoleSender)
		}(i, uid)
	}
	wg.Wait()

	var okCount int
	for _, err := range errs {
		if err == nil {
			okCount++
		} else if !apperr.IsCode(err, apperr.CodeValidation) {
			t.Fatalf("loser error = %v, want validation error", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("winners = %d, want exactly 1", okCount)
	}
}

func TestConcurrentReleaseConfirmations(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)
	f.rooms.setStep(room.ID, models.StepFunded)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []uuid.UUID{sender, receiver} {
		wg.Add(1)
		go func(i int, uid uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.ConfirmRelease(ctx, uid, room.ID)
		}(i, uid)
	}
	wg.Wait()

	for i, err := range errs {
		// A confirmation that lands after the step already advanced is a
		// legitimate conflict; any other failure is a bug.
		if err != nil && !apperr.IsCode(err, apperr.CodeConflict) {
			t.Fatalf("errs[%d] = %v", i, err)
		}
	}

	got, err := f.svc.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if errs[0] == nil && errs[1] == nil && got.Step != models.StepReleasing {
		t.Fatalf("step = %s, want %s", got.Step, models.StepReleasing)
	}
}

func TestDisputeOverlay(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)

	if _, err := f.svc.CreateDispute(ctx, sender, room.ID, "goods not as described", nil); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("dispute before funded: got %v, want sequence error", err)
	}

	f.rooms.setStep(room.ID, models.StepFunded)

	if _, err := f.svc.CreateDispute(ctx, sender, room.ID, "", nil); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("empty explanation: got %v, want validation error", err)
	}

	url := "https://example.com/proof"
	room, err := f.svc.CreateDispute(ctx, sender, room.ID, "goods not as described", &url)
	if err != nil {
		t.Fatal(err)
	}
	if room.Status != models.RoomStatusDisputed {
		t.Fatalf("status = %s, want %s", room.Status, models.RoomStatusDisputed)
	}
	if room.Step != models.StepFunded {
		t.Fatalf("step changed on dispute: %s", room.Step)
	}

	// The dispute flag does not block transitions that remain legal.
	if _, err := f.svc.ConfirmCancel(ctx, sender, room.ID); err != nil {
		t.Fatal(err)
	}
	room, err = f.svc.ConfirmCancel(ctx, receiver, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if room.Step != models.StepCancelling {
		t.Fatalf("step = %s, want %s", room.Step, models.StepCancelling)
	}

	disputes, err := f.svc.GetDisputes(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(disputes) != 1 || disputes[0].ProofURL == nil || *disputes[0].ProofURL != url {
		t.Fatalf("disputes = %+v", disputes)
	}
}

func TestGetPaymentInfo(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	room, sender, receiver := setupNegotiated(t, f)

	if _, err := f.svc.GetPaymentInfo(ctx, room.ID); !apperr.IsCode(err, apperr.CodeSequence) {
		t.Fatalf("before deposit target: got %v, want sequence error", err)
	}

	if _, err := f.svc.ProposeAmount(ctx, sender, room.ID, "2500"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAmount(ctx, receiver, room.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SelectFeePayer(ctx, sender, room.ID, models.FeePayerReceiver); err != nil {
		t.Fatal(err)
	}
	room, err := f.svc.ConfirmFee(ctx, receiver, room.ID, true)
	if err != nil {
		t.Fatal(err)
	}

	info, err := f.svc.GetPaymentInfo(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.EscrowAddress != *room.EscrowAddress || info.Amount != "2500" || info.FeePayer != models.FeePayerReceiver {
		t.Fatalf("payment info = %+v", info)
	}
}

func TestDepositAddressDeterministic(t *testing.T) {
	p := NewKeccakDepositProvider()
	id := uuid.New()

	a1, err := p.DepositAddress(id, 11155111)
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := p.DepositAddress(id, 11155111)
	if a1 != a2 {
		t.Fatalf("same inputs produced %s and %s", a1, a2)
	}

	other, _ := p.DepositAddress(id, 1)
	if other == a1 {
		t.Fatal("different chain produced the same address")
	}
	if !strings.HasPrefix(a1, "0x") || len(a1) != 42 {
		t.Fatalf("address format: %s", a1)
	}
}
