package indexer

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ethscriptions-protocol/indexer/codec"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/logger"
)

// Materializer applies classified intents to the store, one at a time, in
// the exact order the Block Processor hands them over. Every mutation is
// idempotent with respect to re-running the same block, which the
// processor relies on when a batch is retried after a partial failure.
type Materializer struct {
	protocols map[string]ProtocolHandler
}

// NewMaterializer builds a Materializer dispatching protocol operations
// through protocols.
func NewMaterializer(protocols map[string]ProtocolHandler) *Materializer {
	return &Materializer{protocols: protocols}
}

// ApplyIntent dispatches a single classified intent against db.
func (m *Materializer) ApplyIntent(db *gorm.DB, intent Intent) error {
	switch intent.Kind {
	case IntentCreate:
		return m.applyCreate(db, intent.Create)
	case IntentTransfer:
		return m.applyTransfer(db, intent.Transfer)
	default:
		return nil
	}
}

// applyCreate computes the target id (with an ESIP-6 "-N" suffix if
// opted in), inserts the inscription, and — on success — dispatches its
// payload to the matching Protocol Handler. A uniqueness conflict in the
// non-ESIP-6 case is absorbed silently: the content is already indexed.
//
// An ESIP-6 create's id is not a pure function of its content alone —
// NextESIP6Sequence depends on how many siblings already exist — so unlike
// the plain case, a duplicate-key collision can't be relied on to catch a
// replay: the second pass would simply compute the next sequence number
// instead of colliding with the first. Every ESIP-6 create is therefore
// looked up by its own creation_tx first, before minting a slot, so
// re-running the same on-chain transaction is a genuine no-op.
func (m *Materializer) applyCreate(db *gorm.DB, c CreateIntent) error {
	var insc *database.Inscription

	err := db.Transaction(func(tx *gorm.DB) error {
		id := c.ContentHash

		var seq *int
		if c.ESIP6 {
			if _, err := database.FindSiblingByCreationTx(tx, c.ContentHash, c.TxHash); err == nil {
				return nil // this transaction already minted its sibling
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			n, err := database.NextESIP6Sequence(tx, c.ContentHash)
			if err != nil {
				return err
			}

			id = database.BaseHashID(c.ContentHash, n)
			seq = &n
		}

		row := &database.Inscription{
			ID:                id,
			ContentType:       c.ContentType,
			Creator:           c.Creator,
			CurrentOwner:      c.InitialOwner,
			CreationTx:        c.TxHash,
			CreationBlock:     c.BlockNumber,
			CreationTimestamp: c.Timestamp,
			ESIP6:             c.ESIP6,
			ESIP6Sequence:     seq,
			CreatedByContract: c.CreatedByContract,
			CreatorContract:   c.CreatorContract,
		}

		if err := database.CreateInscription(tx, row); err != nil {
			if isDuplicateKey(err) {
				return nil // absorbed: content already indexed under this id
			}

			return err
		}

		insc = row

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "indexer: apply create")
	}
	if insc == nil {
		return nil
	}

	handler, payload, ok := m.protocolFor(c.ContentURI)
	if !ok {
		return nil
	}

	if err := handler.Handle(db, insc, payload); err != nil {
		if isValidationError(err) {
			logger.Warn("indexer: protocol op %q dropped for %s: %v", handler.Tag(), insc.ID, err)
			return nil
		}

		return errors.Wrapf(err, "indexer: protocol op %q store failure for %s", handler.Tag(), insc.ID)
	}

	return nil
}

// applyTransfer loads the inscription, validates the expected previous
// owner against its current owner with a compare-and-set update, and — on
// success — appends the Transfer record and mirrors the new owner into any
// backing TokenNote rows. A missing inscription or an owner mismatch drops
// the intent without error, per spec.
func (m *Materializer) applyTransfer(db *gorm.DB, t TransferIntent) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		insc, err := database.FetchInscription(tx, t.InscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}

			return err
		}

		expectedFrom := t.From
		if t.TransferType == database.TransferESIP1 {
			// ESIP-1 carries no previous-owner assertion: the current
			// owner, read moments ago, is trivially the expected one.
			expectedFrom = insc.CurrentOwner
		}

		ok, err := database.UpdateOwnerCompareAndSet(tx, t.InscriptionID, expectedFrom, t.To)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := database.CreateTransfer(tx, &database.Transfer{
			InscriptionID:   t.InscriptionID,
			From:            expectedFrom,
			To:              t.To,
			TxHash:          t.TxHash,
			BlockNumber:     t.BlockNumber,
			Timestamp:       t.Timestamp,
			LogIndex:        t.LogIndex,
			ContractAddress: t.ContractAddress,
			TransferType:    t.TransferType,
		}); err != nil {
			return err
		}

		return database.MirrorTokenNoteOwner(tx, t.InscriptionID, t.To)
	})

	return errors.Wrap(err, "indexer: apply transfer")
}

// protocolFor parses uri as a JSON-payload inscription and looks up the
// handler for its "p" tag. It reports false whenever the payload isn't a
// recognized protocol operation at all — that is not an error, just an
// ordinary content inscription with no protocol semantics.
func (m *Materializer) protocolFor(uri string) (ProtocolHandler, map[string]interface{}, bool) {
	d, ok := codec.ParseDataURI(uri)
	if !ok || !strings.HasPrefix(d.MIME, "application/json") {
		return nil, nil, false
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(d.Body), &payload); err != nil {
		return nil, nil, false
	}

	tag, _ := payload["p"].(string)

	handler, ok := m.protocols[tag]
	if !ok {
		return nil, nil, false
	}

	return handler, payload, true
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
