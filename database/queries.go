package database

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// FetchInscription loads an inscription by its full id (including any
// ESIP-6 "-N" suffix). Returns gorm.ErrRecordNotFound if absent.
func FetchInscription(db *gorm.DB, id string) (*Inscription, error) {
	var insc Inscription
	if err := db.Where("id = ?", id).First(&insc).Error; err != nil {
		return nil, err
	}

	return &insc, nil
}

// CreateInscription inserts insc. A unique-constraint violation on id
// surfaces as gorm.ErrDuplicatedKey (via TranslateError), which callers
// treat as "already indexed" and absorb silently.
func CreateInscription(db *gorm.DB, insc *Inscription) error {
	return db.Create(insc).Error
}

// NextESIP6Sequence returns 1 + the number of existing inscriptions whose
// id is baseHash suffixed with "-<n>", used by both Create paths (EOA
// calldata and ESIP-3 contract event) so they can never diverge in how
// they number siblings. The bare (unsuffixed) row, if any, is not counted:
// it is the plain, non-ESIP-6 occurrence and does not consume a sequence
// number, so the first ESIP-6 sibling is always "-1" regardless of
// whether a plain create for the same hash exists.
//
// This count is a live, mutable quantity: callers must never treat its
// result as the permanent id of a specific create. Use
// FindSiblingByCreationTx first to recognize a create that already
// consumed a slot on a prior pass.
func NextESIP6Sequence(db *gorm.DB, baseHash string) (int, error) {
	var count int64
	err := db.Model(&Inscription{}).
		Where("id LIKE ?", baseHash+"-%").
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "database: count esip6 siblings")
	}

	return int(count) + 1, nil
}

// FindSiblingByCreationTx looks up the inscription in baseHash's ESIP-6
// family — the bare row or any "-N" sibling — that was created by txHash,
// if any. Every create, ESIP-6 or not, is a single on-chain transaction;
// this lets a replayed create recognize the slot it already occupies
// instead of asking NextESIP6Sequence to mint a fresh one. Returns
// gorm.ErrRecordNotFound if txHash never created a row in this family.
func FindSiblingByCreationTx(db *gorm.DB, baseHash, txHash string) (*Inscription, error) {
	var insc Inscription
	err := db.Where("(id = ? OR id LIKE ?) AND creation_tx = ?", baseHash, baseHash+"-%", txHash).
		First(&insc).Error
	if err != nil {
		return nil, err
	}

	return &insc, nil
}

// BaseHashID renders the ESIP-6 sibling id for sequence n, or baseHash
// itself when n == 0 (the first, plain occurrence).
func BaseHashID(baseHash string, sequence int) string {
	if sequence <= 0 {
		return baseHash
	}

	var b strings.Builder
	b.WriteString(baseHash)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(sequence))

	return b.String()
}

// UpdateOwnerCompareAndSet performs the guarded ownership transfer at the
// heart of invariant (2): the UPDATE only takes effect if the row's current
// owner still equals expectedFrom at the moment it runs. A RowsAffected of
// zero — whether because the id doesn't exist or the owner has already
// moved — means the caller must drop the transfer intent without error.
func UpdateOwnerCompareAndSet(db *gorm.DB, id, expectedFrom, newOwner string) (bool, error) {
	res := db.Model(&Inscription{}).
		Where("id = ? AND current_owner = ?", id, expectedFrom).
		Update("current_owner", newOwner)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "database: compare-and-set owner")
	}

	return res.RowsAffected > 0, nil
}

// CreateTransfer appends a Transfer row. Transfers are never updated or
// deleted once written.
func CreateTransfer(db *gorm.DB, t *Transfer) error {
	return errors.Wrap(db.Create(t).Error, "database: create transfer")
}

// MirrorTokenNoteOwner updates every TokenNote backed by inscriptionID to
// the inscription's new owner, maintaining invariant (6). A no-op (zero
// rows affected) is expected and not an error: most inscriptions never
// back a token note.
func MirrorTokenNoteOwner(db *gorm.DB, inscriptionID, newOwner string) error {
	err := db.Model(&TokenNote{}).
		Where("inscription_id = ?", inscriptionID).
		Update("owner", newOwner).Error

	return errors.Wrap(err, "database: mirror token note owner")
}

// FetchCollection loads a collection by id. Returns gorm.ErrRecordNotFound
// if absent.
func FetchCollection(db *gorm.DB, id string) (*Collection, error) {
	var c Collection
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}

	return &c, nil
}

func CreateCollection(db *gorm.DB, c *Collection) error {
	return errors.Wrap(db.Create(c).Error, "database: create collection")
}

// UpdateCollectionFields applies a partial metadata update, used by
// edit_collection.
func UpdateCollectionFields(db *gorm.DB, id string, fields map[string]interface{}) error {
	err := db.Model(&Collection{}).Where("id = ?", id).Updates(fields).Error
	return errors.Wrap(err, "database: update collection fields")
}

func LockCollection(db *gorm.DB, id string) error {
	err := db.Model(&Collection{}).Where("id = ?", id).Update("locked", true).Error
	return errors.Wrap(err, "database: lock collection")
}

func TransferCollectionOwnership(db *gorm.DB, id, newOwner string) error {
	err := db.Model(&Collection{}).Where("id = ?", id).Update("owner", newOwner).Error
	return errors.Wrap(err, "database: transfer collection ownership")
}

// FindCollectionItemByInscription looks up the item collectionID already
// assigned to inscriptionID, if any. A create or add_self_to_collection
// operation is keyed off this before minting an index: replaying the same
// transaction must recognize its own prior slot rather than take a new
// one. Returns gorm.ErrRecordNotFound if inscriptionID holds no slot yet.
func FindCollectionItemByInscription(db *gorm.DB, collectionID, inscriptionID string) (*CollectionItem, error) {
	var item CollectionItem
	err := db.Where("collection_id = ? AND inscription_id = ?", collectionID, inscriptionID).First(&item).Error
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// NextCollectionItemIndex returns the next dense, 1-based item_index for
// collectionID. Like NextESIP6Sequence, this is a live count: callers must
// check FindCollectionItemByInscription first so a replayed operation
// doesn't mint a second index for the inscription that already holds one.
func NextCollectionItemIndex(db *gorm.DB, collectionID string) (uint64, error) {
	var count int64
	err := db.Model(&CollectionItem{}).Where("collection_id = ?", collectionID).Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "database: count collection items")
	}

	return uint64(count) + 1, nil
}

func CreateCollectionItem(db *gorm.DB, item *CollectionItem) error {
	return errors.Wrap(db.Create(item).Error, "database: create collection item")
}

func FetchFixedDenominationToken(db *gorm.DB, tick string) (*FixedDenominationToken, error) {
	var t FixedDenominationToken
	if err := db.Where("tick = ?", tick).First(&t).Error; err != nil {
		return nil, err
	}

	return &t, nil
}

func CreateFixedDenominationToken(db *gorm.DB, t *FixedDenominationToken) error {
	return errors.Wrap(db.Create(t).Error, "database: create fixed-denomination token")
}

// IncrementFixedDenominationMinted performs a compare-and-set supply bump:
// it only succeeds if minted+amount still fits under maxSupply at the
// moment the UPDATE runs, so two concurrent mints (not expected under the
// single-writer model, but free to add) can never together overmint.
func IncrementFixedDenominationMinted(db *gorm.DB, tick string, amount uint64) (bool, error) {
	res := db.Model(&FixedDenominationToken{}).
		Where("tick = ? AND minted + ? <= max_supply", tick, amount).
		Update("minted", gorm.Expr("minted + ?", amount))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "database: increment minted")
	}

	return res.RowsAffected > 0, nil
}

// FindTokenNoteByInscription looks up the note, if any, already minted by
// inscriptionID. A mint operation checks this before incrementing supply
// or minting a note id, so replaying the same mint transaction recognizes
// the note it already issued instead of minting a second one.
func FindTokenNoteByInscription(db *gorm.DB, inscriptionID string) (*TokenNote, error) {
	var note TokenNote
	err := db.Where("inscription_id = ?", inscriptionID).First(&note).Error
	if err != nil {
		return nil, err
	}

	return &note, nil
}

// NextTokenNoteID returns the next dense, 1-based note id for tick. Like
// NextCollectionItemIndex, callers must check FindTokenNoteByInscription
// first: this count alone cannot tell a replayed mint from a new one.
func NextTokenNoteID(db *gorm.DB, tick string) (uint64, error) {
	var count int64
	if err := db.Model(&TokenNote{}).Where("tick = ?", tick).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "database: count token notes")
	}

	return uint64(count) + 1, nil
}

func CreateTokenNote(db *gorm.DB, n *TokenNote) error {
	return errors.Wrap(db.Create(n).Error, "database: create token note")
}

func FetchBondingCurveToken(db *gorm.DB, tick string) (*BondingCurveToken, error) {
	var t BondingCurveToken
	if err := db.Where("tick = ?", tick).First(&t).Error; err != nil {
		return nil, err
	}

	return &t, nil
}

func CreateBondingCurveToken(db *gorm.DB, t *BondingCurveToken) error {
	return errors.Wrap(db.Create(t).Error, "database: create bonding-curve token")
}

func IncrementBondingCurveMinted(db *gorm.DB, tick string, amount uint64) (bool, error) {
	res := db.Model(&BondingCurveToken{}).
		Where("tick = ? AND minted + ? <= max_supply", tick, amount).
		Update("minted", gorm.Expr("minted + ?", amount))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "database: increment bonding-curve minted")
	}

	return res.RowsAffected > 0, nil
}

// IncrementBondingCurveReserve accumulates the price paid for a mint into
// the curve's reserve. Unlike IncrementBondingCurveMinted, this has no
// supply cap to enforce — it is pure bookkeeping of value already accepted
// by a mint that already passed the supply check.
func IncrementBondingCurveReserve(db *gorm.DB, tick string, amount uint64) error {
	err := db.Model(&BondingCurveToken{}).
		Where("tick = ?", tick).
		Update("reserve", gorm.Expr("reserve + ?", amount)).Error

	return errors.Wrap(err, "database: increment bonding-curve reserve")
}
