package writer

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/cache"
	"github.com/rtpsmesh/rtpsd/rtps/cdr"
	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/pool"
	"github.com/rtpsmesh/rtpsd/rtps/qos"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// StatelessWriter is the best-effort writer endpoint: no per-reader state,
// no HEARTBEAT/ACKNACK/GAP. Each write is sent once to every matched
// reader's configured locators.
type StatelessWriter struct {
	mu sync.Mutex

	GUID      guid.GUID
	TopicName string
	TypeName  string
	Qos       qos.Policy

	History   *cache.HistoryCache
	Pool      *pool.Pool
	Transport Sender

	readerLocators map[guid.GUID][]locator.Locator
	nextSeq        int64
	closed         bool
}

// NewStateless constructs a StatelessWriter.
func NewStateless(id guid.GUID, topic, typ string, policy qos.Policy, history *cache.HistoryCache, pl *pool.Pool, tr Sender) *StatelessWriter {
	return &StatelessWriter{
		GUID:           id,
		TopicName:      topic,
		TypeName:       typ,
		Qos:            policy,
		History:        history,
		Pool:           pl,
		Transport:      tr,
		readerLocators: make(map[guid.GUID][]locator.Locator),
	}
}

// MatchReader records a matched reader's locators for future writes.
func (w *StatelessWriter) MatchReader(reader guid.GUID, locators []locator.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readerLocators[reader] = locators
}

// UnmatchReader forgets a reader on unmatch.
func (w *StatelessWriter) UnmatchReader(reader guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readerLocators, reader)
}

// Write allocates a payload, appends it to the HistoryCache, and sends one
// DATA submessage to each matched reader's locators. A reader matched
// later is not sent earlier samples from this cache.
func (w *StatelessWriter) Write(data []byte) (seqnum.SequenceNumber, error) {
	pl, err := w.Pool.Get(len(data))
	if err != nil {
		return 0, err
	}
	copy(pl.Bytes, data)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		pl.Release()
		return 0, rtpserrors.New(rtpserrors.AlreadyDeleted, "writer has been deleted")
	}
	w.nextSeq++
	sn := seqnum.SequenceNumber(w.nextSeq)
	locsByReader := make(map[guid.GUID][]locator.Locator, len(w.readerLocators))
	for r, locs := range w.readerLocators {
		locsByReader[r] = locs
	}
	w.mu.Unlock()

	change := &cache.CacheChange{
		Kind:            cache.Alive,
		WriterGUID:      w.GUID,
		SequenceNumber:  sn,
		SourceTimestamp: time.Now(),
		Payload:         pl,
	}
	_ = w.History.AddChange(change) // best-effort: a full cache just drops the oldest sample

	if w.Transport == nil {
		return sn, nil
	}

	order, littleEndian := binary.ByteOrder(binary.LittleEndian), true
	for reader, locs := range locsByReader {
		body, flags := cdr.EncodeData(cdr.Data{
			ReaderID:          reader.Entity,
			WriterID:          w.GUID.Entity,
			WriterSN:          sn,
			SerializedPayload: pl.Bytes,
		}, order, littleEndian)
		msg := cdr.Message{
			Header: cdr.MessageHeader{
				VersionMajor: cdr.ProtocolVersion.Major,
				VersionMinor: cdr.ProtocolVersion.Minor,
				Vendor:       cdr.OurVendorID,
				GuidPrefix:   w.GUID.Prefix,
			},
			Submessages: []cdr.RawSubmessage{
				{Header: cdr.SubmessageHeader{ID: cdr.SubmsgDATA, Flags: flags}, Body: body},
			},
		}
		encoded := msg.Encode()
		for _, loc := range locs {
			_ = w.Transport.Send(loc, encoded)
		}
	}
	return sn, nil
}

// Close marks the writer deleted.
func (w *StatelessWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
