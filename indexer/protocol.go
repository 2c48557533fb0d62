package indexer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ethscriptions-protocol/indexer/database"
)

// ProtocolHandler is one JSON-payload sub-state-machine, dispatched by its
// "p" tag. A returned *ValidationError means the operation was rejected —
// malformed payload, an unmet guard, a business rule — and the caller
// drops it silently. Any other error means one of the handler's own store
// writes failed, and the caller aborts the batch rather than swallowing it.
type ProtocolHandler interface {
	Tag() string
	Handle(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error
}

// ValidationError marks a protocol operation as rejected rather than
// failed: the payload was malformed, a guard wasn't satisfied, or a
// business rule (max supply, denomination, already deployed) was broken.
// The materializer drops these silently; anything else aborts the batch.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func newValidationError(msg string) error {
	return &ValidationError{msg: "indexer: " + msg}
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: "indexer: " + fmt.Sprintf(format, args...)}
}

func isValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// NewProtocolHandlers builds the tag -> handler map the Materializer
// dispatches protocol operations through.
func NewProtocolHandlers() map[string]ProtocolHandler {
	handlers := []ProtocolHandler{
		collectionHandler{},
		fixedDenominationHandler{},
		bondingCurveHandler{},
	}

	m := make(map[string]ProtocolHandler, len(handlers))
	for _, h := range handlers {
		m[h.Tag()] = h
	}

	return m
}

// requireOwner and requireUnlocked are the shared guards every gated
// operation goes through — explicit functions rather than a base type,
// per the "polymorphism as interfaces, not inheritance" redesign.
func requireOwner(owner, sender string) error {
	if owner != sender {
		return newValidationError("op sender is not the owner")
	}

	return nil
}

func requireUnlocked(locked bool) error {
	if locked {
		return newValidationError("collection is locked")
	}

	return nil
}

func stringField(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok
}

// uintField accepts both string- and number-encoded integers, since JSON
// inscription payloads in the wild use both ("max":"1000" and "max":1000).
func uintField(payload map[string]interface{}, key string) (uint64, bool) {
	switch v := payload[key].(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}

		return n, true
	case float64:
		if v < 0 {
			return 0, false
		}

		return uint64(v), true
	default:
		return 0, false
	}
}

// parseTick validates and lowercases the "tick" field shared by both
// fungible-token protocols.
func parseTick(payload map[string]interface{}) (string, bool) {
	tick, ok := stringField(payload, "tick")
	if !ok {
		return "", false
	}

	tick = strings.ToLower(tick)
	if tick == "" || len(tick) > 28 {
		return "", false
	}

	return tick, true
}

// --- erc-721-ethscriptions-collection ---

type collectionHandler struct{}

func (collectionHandler) Tag() string { return "erc-721-ethscriptions-collection" }

func (h collectionHandler) Handle(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	op, _ := stringField(payload, "op")

	switch op {
	case "create", "create_collection_and_add_self":
		return h.create(db, insc, payload, op == "create_collection_and_add_self")
	case "add_self_to_collection", "add":
		return h.add(db, insc, payload)
	case "edit_collection":
		return h.edit(db, insc, payload)
	case "lock_collection":
		return h.lock(db, insc, payload)
	case "transfer_ownership":
		return h.transferOwnership(db, insc, payload)
	default:
		return validationErrorf("unknown collection op %q", op)
	}
}

func (h collectionHandler) create(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}, addSelf bool) error {
	name, _ := stringField(payload, "name")
	symbol, _ := stringField(payload, "symbol")
	description, _ := stringField(payload, "description")
	maxSupply, _ := uintField(payload, "max_supply")

	c := &database.Collection{
		ID:          insc.ID,
		Name:        name,
		Symbol:      symbol,
		Description: description,
		MaxSupply:   maxSupply,
		Owner:       insc.Creator,
	}
	if err := database.CreateCollection(db, c); err != nil {
		return err
	}

	if !addSelf {
		return nil
	}

	item, _ := payload["item"].(map[string]interface{})

	return h.addItem(db, c, insc, item)
}

func (h collectionHandler) add(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	collectionID, ok := stringField(payload, "collection_id")
	if !ok {
		return newValidationError("add_self_to_collection missing collection_id")
	}

	c, err := database.FetchCollection(db, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("collection %q does not exist", collectionID)
		}
		return err
	}
	if err := requireUnlocked(c.Locked); err != nil {
		return err
	}

	item, _ := payload["item"].(map[string]interface{})

	return h.addItem(db, c, insc, item)
}

// addItem assigns c's next dense item slot to the inscription named by
// item's "inscription_id" field, or insc itself if absent. It is keyed off
// that inscription's id rather than a live item count: replaying the same
// create or add_self_to_collection transaction must recognize the slot it
// already occupies instead of minting a second one, and the max-supply
// check must never see a live count inflated by such a replay.
func (collectionHandler) addItem(db *gorm.DB, c *database.Collection, insc *database.Inscription, item map[string]interface{}) error {
	itemInscriptionID := insc.ID
	if v, ok := stringField(item, "inscription_id"); ok {
		itemInscriptionID = v
	}

	if _, err := database.FindCollectionItemByInscription(db, c.ID, itemInscriptionID); err == nil {
		return nil // this inscription already holds a slot in c
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	idx, err := database.NextCollectionItemIndex(db, c.ID)
	if err != nil {
		return err
	}
	if c.MaxSupply > 0 && idx > c.MaxSupply {
		return validationErrorf("collection %s is at max supply", c.ID)
	}

	return database.CreateCollectionItem(db, &database.CollectionItem{
		CollectionID:  c.ID,
		ItemIndex:     idx,
		InscriptionID: itemInscriptionID,
	})
}

func (collectionHandler) edit(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	collectionID, ok := stringField(payload, "collection_id")
	if !ok {
		return newValidationError("edit_collection missing collection_id")
	}

	c, err := database.FetchCollection(db, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("collection %q does not exist", collectionID)
		}
		return err
	}
	if err := requireOwner(c.Owner, insc.Creator); err != nil {
		return err
	}
	if err := requireUnlocked(c.Locked); err != nil {
		return err
	}

	fields := map[string]interface{}{}
	if v, ok := stringField(payload, "name"); ok {
		fields["name"] = v
	}
	if v, ok := stringField(payload, "symbol"); ok {
		fields["symbol"] = v
	}
	if v, ok := stringField(payload, "description"); ok {
		fields["description"] = v
	}
	if len(fields) == 0 {
		return newValidationError("edit_collection with no editable fields")
	}

	return database.UpdateCollectionFields(db, collectionID, fields)
}

func (collectionHandler) lock(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	collectionID, ok := stringField(payload, "collection_id")
	if !ok {
		return newValidationError("lock_collection missing collection_id")
	}

	c, err := database.FetchCollection(db, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("collection %q does not exist", collectionID)
		}
		return err
	}
	if err := requireOwner(c.Owner, insc.Creator); err != nil {
		return err
	}

	return database.LockCollection(db, collectionID)
}

func (collectionHandler) transferOwnership(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	collectionID, ok := stringField(payload, "collection_id")
	if !ok {
		return newValidationError("transfer_ownership missing collection_id")
	}

	c, err := database.FetchCollection(db, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("collection %q does not exist", collectionID)
		}
		return err
	}
	if err := requireOwner(c.Owner, insc.Creator); err != nil {
		return err
	}

	newOwner, ok := stringField(payload, "new_owner")
	if !ok {
		return newValidationError("transfer_ownership missing new_owner")
	}

	return database.TransferCollectionOwnership(db, collectionID, strings.ToLower(newOwner))
}

// --- erc-20-fixed-denomination ---

type fixedDenominationHandler struct{}

func (fixedDenominationHandler) Tag() string { return "erc-20-fixed-denomination" }

func (h fixedDenominationHandler) Handle(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	op, _ := stringField(payload, "op")

	switch op {
	case "deploy":
		return h.deploy(db, insc, payload)
	case "mint":
		return h.mint(db, insc, payload)
	default:
		return validationErrorf("unknown fixed-denomination op %q", op)
	}
}

func (fixedDenominationHandler) deploy(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	tick, ok := parseTick(payload)
	if !ok {
		return newValidationError("deploy missing or oversized tick")
	}

	maxSupply, ok1 := uintField(payload, "max")
	denomination, ok2 := uintField(payload, "lim")
	if !ok1 || !ok2 || maxSupply == 0 || denomination == 0 || maxSupply%denomination != 0 {
		return newValidationError("deploy with invalid max/lim")
	}

	if _, err := database.FetchFixedDenominationToken(db, tick); err == nil {
		return validationErrorf("tick %q already deployed", tick)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return database.CreateFixedDenominationToken(db, &database.FixedDenominationToken{
		Tick:          tick,
		MaxSupply:     maxSupply,
		Denomination:  denomination,
		InscriptionID: insc.ID,
	})
}

// mint is keyed off insc.ID, not a live supply count: a mint operation
// checks whether its own inscription already issued a note before touching
// minted supply, so replaying the same mint transaction is a no-op instead
// of double-counting circulating supply.
func (fixedDenominationHandler) mint(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	tick, ok := parseTick(payload)
	if !ok {
		return newValidationError("mint missing tick")
	}

	if _, err := database.FindTokenNoteByInscription(db, insc.ID); err == nil {
		return nil // this inscription already minted its note
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	t, err := database.FetchFixedDenominationToken(db, tick)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("mint of undeployed tick %q", tick)
		}
		return err
	}

	amt, hasAmt := uintField(payload, "amt")
	if !hasAmt {
		amt = t.Denomination
	}
	if amt != t.Denomination {
		return validationErrorf("mint amount %d does not equal denomination %d", amt, t.Denomination)
	}

	ok2, err := database.IncrementFixedDenominationMinted(db, tick, amt)
	if err != nil {
		return err
	}
	if !ok2 {
		return validationErrorf("mint of %q would exceed max supply", tick)
	}

	noteID, err := database.NextTokenNoteID(db, tick)
	if err != nil {
		return err
	}

	return database.CreateTokenNote(db, &database.TokenNote{
		Tick:          tick,
		Kind:          database.TokenKindFixed,
		NoteID:        noteID,
		InscriptionID: insc.ID,
		Owner:         insc.CurrentOwner,
		Amount:        amt,
	})
}

// --- erc-20-bonding-curve ---

type bondingCurveHandler struct{}

func (bondingCurveHandler) Tag() string { return "erc-20-bonding-curve" }

func (h bondingCurveHandler) Handle(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	op, _ := stringField(payload, "op")

	switch op {
	case "deploy":
		return h.deploy(db, insc, payload)
	case "mint":
		return h.mint(db, insc, payload)
	default:
		return validationErrorf("unknown bonding-curve op %q", op)
	}
}

func (bondingCurveHandler) deploy(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	tick, ok := parseTick(payload)
	if !ok {
		return newValidationError("deploy missing or oversized tick")
	}

	maxSupply, ok1 := uintField(payload, "max")
	denomination, ok2 := uintField(payload, "lim")
	basePrice, ok3 := uintField(payload, "base_price")
	priceIncrement, ok4 := uintField(payload, "price_increment")
	if !ok1 || !ok2 || !ok3 || !ok4 || maxSupply == 0 || denomination == 0 || maxSupply%denomination != 0 {
		return newValidationError("deploy with invalid curve parameters")
	}

	if _, err := database.FetchBondingCurveToken(db, tick); err == nil {
		return validationErrorf("tick %q already deployed", tick)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return database.CreateBondingCurveToken(db, &database.BondingCurveToken{
		Tick:           tick,
		MaxSupply:      maxSupply,
		Denomination:   denomination,
		BasePrice:      basePrice,
		PriceIncrement: priceIncrement,
		InscriptionID:  insc.ID,
	})
}

// mint is keyed off insc.ID for the same reason as the fixed-denomination
// handler's: a replayed mint transaction must not accumulate the reserve
// or bump minted supply a second time.
func (bondingCurveHandler) mint(db *gorm.DB, insc *database.Inscription, payload map[string]interface{}) error {
	tick, ok := parseTick(payload)
	if !ok {
		return newValidationError("mint missing tick")
	}

	if _, err := database.FindTokenNoteByInscription(db, insc.ID); err == nil {
		return nil // this inscription already minted its note
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	t, err := database.FetchBondingCurveToken(db, tick)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErrorf("mint of undeployed tick %q", tick)
		}
		return err
	}

	amt, hasAmt := uintField(payload, "amt")
	if !hasAmt {
		amt = t.Denomination
	}
	if amt != t.Denomination {
		return validationErrorf("mint amount %d does not equal denomination %d", amt, t.Denomination)
	}

	// The curve's spot price is a function of how many notes have already
	// been minted, not of anything in this payload.
	noteIndex := t.Minted / t.Denomination
	price := t.BasePrice + t.PriceIncrement*noteIndex

	ok2, err := database.IncrementBondingCurveMinted(db, tick, amt)
	if err != nil {
		return err
	}
	if !ok2 {
		return validationErrorf("mint of %q would exceed max supply", tick)
	}

	if err := database.IncrementBondingCurveReserve(db, tick, price); err != nil {
		return err
	}

	noteID, err := database.NextTokenNoteID(db, tick)
	if err != nil {
		return err
	}

	return database.CreateTokenNote(db, &database.TokenNote{
		Tick:          tick,
		Kind:          database.TokenKindBonding,
		NoteID:        noteID,
		InscriptionID: insc.ID,
		Owner:         insc.CurrentOwner,
		Amount:        amt,
	})
}
