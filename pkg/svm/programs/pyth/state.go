package pyth

import (
	"fmt"
	"math/big"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/shopspring/decimal"
)

// Magic is the 32-bit number prefixed on each account.
const Magic = uint32(0xa1b2c3d4)

// Version2 identifies the version 2 data format stored in an account.
const Version2 = uint32(2)

// Record lengths.
const (
	AccKeyLen         = 32
	EmaLen            = 24
	PriceInfoLen      = 32
	PriceComponentLen = AccKeyLen + 2*PriceInfoLen
	AccountHeaderLen  = 16
	PriceLen          = 240
)

// MaxComponents is the number of publisher slots a full price account holds.
const MaxComponents = 32

// PriceAccountSize is the allocation size of a full price account: the
// price record followed by the publisher component array.
const PriceAccountSize = PriceLen + MaxComponents*PriceComponentLen

// DefaultConfidence is the aggregate confidence written at account creation.
const DefaultConfidence = uint64(100)

// AccountType identifies what an oracle account stores.
type AccountType uint32

const (
	AccountTypeUnknown AccountType = iota
	AccountTypeMapping
	AccountTypeProduct
	AccountTypePrice
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeMapping:
		return "mapping"
	case AccountTypeProduct:
		return "product"
	case AccountTypePrice:
		return "price"
	default:
		return "unknown"
	}
}

// PriceStatus is the trading status of a price.
type PriceStatus uint32

const (
	// PriceStatusUnknown means the feed is not updating for an unknown reason.
	PriceStatusUnknown PriceStatus = iota
	// PriceStatusTrading means the feed is updating as expected.
	PriceStatusTrading
	// PriceStatusHalted means trading in the product has been halted.
	PriceStatusHalted
	// PriceStatusAuction means an auction is setting the price.
	PriceStatusAuction
)

func (s PriceStatus) String() string {
	switch s {
	case PriceStatusTrading:
		return "trading"
	case PriceStatusHalted:
		return "halted"
	case PriceStatusAuction:
		return "auction"
	default:
		return "unknown"
	}
}

// CorpAction is a pending corporate action notification.
type CorpAction uint32

const (
	CorpActionNone CorpAction = iota
)

// PriceType is the price or calculation type of a price account.
type PriceType uint32

const (
	PriceTypeUnknown PriceType = iota
	PriceTypePrice
)

func (t PriceType) String() string {
	switch t {
	case PriceTypePrice:
		return "price"
	default:
		return "unknown"
	}
}

// AccKey is a raw 32-byte account key.
type AccKey [AccKeyLen]byte

// AccKeyFromPubkey converts a pubkey to an AccKey.
func AccKeyFromPubkey(p types.Pubkey) AccKey {
	return AccKey(p)
}

// Pubkey converts the key to a pubkey.
func (k AccKey) Pubkey() types.Pubkey {
	return types.Pubkey(k)
}

func (k AccKey) String() string {
	return k.Pubkey().String()
}

func (k AccKey) Len() int { return AccKeyLen }

func (k AccKey) PackInto(dst []byte) error {
	if len(dst) < AccKeyLen {
		return ErrShortBuffer
	}
	copy(dst, k[:])
	return nil
}

func (k *AccKey) UnpackFrom(src []byte) error {
	if len(src) < AccKeyLen {
		return ErrShortBuffer
	}
	copy(k[:], src)
	return nil
}

// Ema is an exponentially-weighted moving average.
type Ema struct {
	Value       int64 // current value of the average
	Numerator   int64 // numerator state for the next update
	Denominator int64 // denominator state for the next update
}

func (e Ema) Len() int { return EmaLen }

func (e Ema) PackInto(dst []byte) error {
	if len(dst) < EmaLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.i64(e.Value)
	w.i64(e.Numerator)
	w.i64(e.Denominator)
	return w.err
}

func (e *Ema) UnpackFrom(src []byte) error {
	if len(src) < EmaLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	v := Ema{
		Value:       r.i64(),
		Numerator:   r.i64(),
		Denominator: r.i64(),
	}
	if r.err != nil {
		return r.err
	}
	*e = v
	return nil
}

// DecimalValue returns the average scaled by exponent.
func (e Ema) DecimalValue(exponent int32) decimal.Decimal {
	return decimal.New(e.Value, exponent)
}

// PriceInfo is a price and confidence at a specific slot. It represents
// either the aggregate price or one publisher's contribution.
type PriceInfo struct {
	Price           int64
	Confidence      uint64
	Status          PriceStatus
	CorporateAction CorpAction
	PublishSlot     uint64
}

func (p PriceInfo) Len() int { return PriceInfoLen }

func (p PriceInfo) PackInto(dst []byte) error {
	if len(dst) < PriceInfoLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.i64(p.Price)
	w.u64(p.Confidence)
	w.u32(uint32(p.Status))
	w.u32(uint32(p.CorporateAction))
	w.u64(p.PublishSlot)
	return w.err
}

func (p *PriceInfo) UnpackFrom(src []byte) error {
	if len(src) < PriceInfoLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	v := PriceInfo{
		Price:           r.i64(),
		Confidence:      r.u64(),
		Status:          PriceStatus(r.tag("status", uint32(PriceStatusAuction))),
		CorporateAction: CorpAction(r.tag("corp_act", uint32(CorpActionNone))),
		PublishSlot:     r.u64(),
	}
	if r.err != nil {
		return r.err
	}
	*p = v
	return nil
}

// Value returns the price and confidence scaled by exponent. ok is false
// unless the status is Trading.
func (p PriceInfo) Value(exponent int32) (price decimal.Decimal, conf decimal.Decimal, ok bool) {
	price = decimal.New(p.Price, exponent)
	conf = decimal.NewFromBigInt(new(big.Int).SetUint64(p.Confidence), exponent)
	ok = p.Status == PriceStatusTrading
	return
}

// PriceComponent is the price and confidence contributed by one publisher.
type PriceComponent struct {
	Publisher AccKey    // key of contributing publisher
	Aggregate PriceInfo // price used to compute the current aggregate
	Latest    PriceInfo // publisher's latest price
}

func (c PriceComponent) Len() int { return PriceComponentLen }

func (c PriceComponent) PackInto(dst []byte) error {
	if len(dst) < PriceComponentLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.record(c.Publisher)
	w.record(c.Aggregate)
	w.record(c.Latest)
	return w.err
}

func (c *PriceComponent) UnpackFrom(src []byte) error {
	if len(src) < PriceComponentLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	var v PriceComponent
	r.record(&v.Publisher)
	r.record(&v.Aggregate)
	r.record(&v.Latest)
	if r.err != nil {
		return r.err
	}
	*c = v
	return nil
}

// AccountHeader is the 16-byte header at the start of every oracle account.
type AccountHeader struct {
	Magic       uint32
	Version     uint32
	AccountType AccountType
	Size        uint32
}

func (h AccountHeader) Len() int { return AccountHeaderLen }

func (h AccountHeader) PackInto(dst []byte) error {
	if len(dst) < AccountHeaderLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.u32(h.Magic)
	w.u32(h.Version)
	w.u32(uint32(h.AccountType))
	w.u32(h.Size)
	return w.err
}

func (h *AccountHeader) UnpackFrom(src []byte) error {
	if len(src) < AccountHeaderLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	v := AccountHeader{
		Magic:       r.u32(),
		Version:     r.u32(),
		AccountType: AccountType(r.u32()),
		Size:        r.u32(),
	}
	if r.err != nil {
		return r.err
	}
	*h = v
	return nil
}

// Valid reports whether the header carries the oracle magic and version.
func (h AccountHeader) Valid() bool {
	return h.Magic == Magic && h.Version == Version2
}

// PeekAccountType classifies account data by its header. Data without a
// valid header is AccountTypeUnknown.
func PeekAccountType(data []byte) AccountType {
	h, err := Unpack[AccountHeader](data)
	if err != nil || !h.Valid() {
		return AccountTypeUnknown
	}
	return h.AccountType
}

// Price is the root record of a price account. The publisher component
// array that follows it in the account buffer is accessed separately with
// ReadComponents and WriteComponents.
type Price struct {
	Magic          uint32      // oracle magic number
	Version        uint32      // program version
	AccountType    AccountType // account type
	Size           uint32      // price account size
	PriceType      PriceType   // price or calculation type
	Exponent       int32       // price exponent
	NumComponents  uint32      // number of component prices
	NumQuoters     uint32      // number of quoters that make up aggregate
	LastSlot       uint64      // slot of last valid (not unknown) aggregate price
	ValidSlot      uint64      // valid slot-time of aggregate price
	Twap           Ema         // time-weighted average price
	Twac           Ema         // time-weighted average confidence interval
	Drv1           int64       // reserved
	Drv2           int64       // reserved
	Product        AccKey      // product account key
	Next           AccKey      // next price account in linked list
	PrevSlot       uint64      // valid slot of previous update
	PrevPrice      int64       // aggregate price of previous update
	PrevConfidence uint64      // confidence interval of previous update
	Drv3           int64       // reserved
	Aggregate      PriceInfo   // aggregate price info
}

func (p Price) Len() int { return PriceLen }

func (p Price) PackInto(dst []byte) error {
	if len(dst) < PriceLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.u32(p.Magic)
	w.u32(p.Version)
	w.u32(uint32(p.AccountType))
	w.u32(p.Size)
	w.u32(uint32(p.PriceType))
	w.i32(p.Exponent)
	w.u32(p.NumComponents)
	w.u32(p.NumQuoters)
	w.u64(p.LastSlot)
	w.u64(p.ValidSlot)
	w.record(p.Twap)
	w.record(p.Twac)
	w.i64(p.Drv1)
	w.i64(p.Drv2)
	w.record(p.Product)
	w.record(p.Next)
	w.u64(p.PrevSlot)
	w.i64(p.PrevPrice)
	w.u64(p.PrevConfidence)
	w.i64(p.Drv3)
	w.record(p.Aggregate)
	return w.err
}

func (p *Price) UnpackFrom(src []byte) error {
	if len(src) < PriceLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	var v Price
	v.Magic = r.u32()
	v.Version = r.u32()
	v.AccountType = AccountType(r.u32())
	v.Size = r.u32()
	v.PriceType = PriceType(r.tag("ptype", uint32(PriceTypePrice)))
	v.Exponent = r.i32()
	v.NumComponents = r.u32()
	v.NumQuoters = r.u32()
	v.LastSlot = r.u64()
	v.ValidSlot = r.u64()
	r.record(&v.Twap)
	r.record(&v.Twac)
	v.Drv1 = r.i64()
	v.Drv2 = r.i64()
	r.record(&v.Product)
	r.record(&v.Next)
	v.PrevSlot = r.u64()
	v.PrevPrice = r.i64()
	v.PrevConfidence = r.u64()
	v.Drv3 = r.i64()
	r.record(&v.Aggregate)
	if r.err != nil {
		return r.err
	}
	*p = v
	return nil
}

// ComponentCapacity returns how many publisher components fit in an account
// buffer of dataLen bytes, capped at MaxComponents.
func ComponentCapacity(dataLen int) int {
	if dataLen <= PriceLen {
		return 0
	}
	n := (dataLen - PriceLen) / PriceComponentLen
	if n > MaxComponents {
		n = MaxComponents
	}
	return n
}

// ReadComponents decodes the first n publisher components stored after the
// price record in data.
func ReadComponents(data []byte, n int) ([]PriceComponent, error) {
	if len(data) < PriceLen || n > ComponentCapacity(len(data)) {
		return nil, fmt.Errorf("%w: %d components do not fit in %d bytes", ErrShortBuffer, n, len(data))
	}
	return UnpackMany[PriceComponent](n, data[PriceLen:])
}

// WriteComponents encodes comps into the component region after the price
// record in data.
func WriteComponents(data []byte, comps []PriceComponent) error {
	if len(data) < PriceLen || len(comps) > ComponentCapacity(len(data)) {
		return fmt.Errorf("%w: %d components do not fit in %d bytes", ErrShortBuffer, len(comps), len(data))
	}
	return PackMany(comps, data[PriceLen:])
}
