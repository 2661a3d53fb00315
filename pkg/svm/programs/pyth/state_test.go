package pyth

import (
	"encoding/binary"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePrice() Price {
	var product, next AccKey
	for i := range product {
		product[i] = byte(i + 1)
		next[i] = byte(0xff - i)
	}
	return Price{
		Magic:          Magic,
		Version:        Version2,
		AccountType:    AccountTypePrice,
		Size:           PriceAccountSize,
		PriceType:      PriceTypePrice,
		Exponent:       -8,
		NumComponents:  3,
		NumQuoters:     2,
		LastSlot:       1234,
		ValidSlot:      1235,
		Twap:           Ema{Value: 100, Numerator: -200, Denominator: 300},
		Twac:           Ema{Value: 4, Numerator: 5, Denominator: 6},
		Drv1:           -1,
		Drv2:           -2,
		Product:        product,
		Next:           next,
		PrevSlot:       1233,
		PrevPrice:      -42,
		PrevConfidence: 7,
		Drv3:           -3,
		Aggregate: PriceInfo{
			Price:           -123456789,
			Confidence:      55,
			Status:          PriceStatusHalted,
			CorporateAction: CorpActionNone,
			PublishSlot:     1236,
		},
	}
}

func TestRecordLengths(t *testing.T) {
	assert.Equal(t, 32, AccKey{}.Len())
	assert.Equal(t, 24, Ema{}.Len())
	assert.Equal(t, 32, PriceInfo{}.Len())
	assert.Equal(t, 96, PriceComponent{}.Len())
	assert.Equal(t, 240, Price{}.Len())
	assert.Equal(t, 16, AccountHeader{}.Len())
	assert.Equal(t, 3312, PriceAccountSize)

	buf, err := PackToVec(samplePrice())
	require.NoError(t, err)
	assert.Len(t, buf, PriceLen)
}

func TestPriceRoundTrip(t *testing.T) {
	want := samplePrice()
	buf, err := PackToVec(want)
	require.NoError(t, err)

	got, err := Unpack[Price](buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPriceFieldOffsets(t *testing.T) {
	p := samplePrice()
	buf, err := PackToVec(p)
	require.NoError(t, err)

	assert.Equal(t, Magic, binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, Version2, binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(AccountTypePrice), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, int32(-8), int32(binary.LittleEndian.Uint32(buf[20:24])))
	assert.Equal(t, uint64(1234), binary.LittleEndian.Uint64(buf[32:40]))
	assert.Equal(t, p.Product[:], buf[112:144])
	assert.Equal(t, p.Next[:], buf[144:176])
	assert.Equal(t, int64(-123456789), int64(binary.LittleEndian.Uint64(buf[208:216])))
	assert.Equal(t, uint64(55), binary.LittleEndian.Uint64(buf[216:224]))
	assert.Equal(t, uint32(PriceStatusHalted), binary.LittleEndian.Uint32(buf[224:228]))
	assert.Equal(t, uint64(1236), binary.LittleEndian.Uint64(buf[232:240]))
}

func TestComponentRoundTrip(t *testing.T) {
	c := PriceComponent{
		Aggregate: PriceInfo{Price: 10, Confidence: 1, Status: PriceStatusTrading, PublishSlot: 3},
		Latest:    PriceInfo{Price: 11, Confidence: 2, Status: PriceStatusAuction, PublishSlot: 4},
	}
	c.Publisher[0] = 0xaa
	c.Publisher[31] = 0xbb

	buf, err := PackToVec(c)
	require.NoError(t, err)
	got, err := Unpack[PriceComponent](buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestUnpackShortBuffer(t *testing.T) {
	_, err := Unpack[Price](make([]byte, PriceLen-1))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Unpack[PriceInfo](make([]byte, 31))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Unpack[Ema](nil)
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Unpack[PriceComponent](make([]byte, 95))
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestPackShortBuffer(t *testing.T) {
	dst := make([]byte, PriceLen-1)
	assert.ErrorIs(t, Pack(samplePrice(), dst), ErrShortBuffer)
	assert.ErrorIs(t, samplePrice().PackInto(dst), ErrShortBuffer)
	assert.ErrorIs(t, PriceInfo{}.PackInto(make([]byte, 8)), ErrShortBuffer)
	assert.ErrorIs(t, AccKey{}.PackInto(make([]byte, 31)), ErrShortBuffer)
}

func TestUnpackUnknownTag(t *testing.T) {
	buf, err := PackToVec(samplePrice())
	require.NoError(t, err)

	badStatus := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(badStatus[224:228], 7)
	got, err := Unpack[Price](badStatus)
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Equal(t, Price{}, got)

	badType := append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(badType[16:20], 9)
	_, err = Unpack[Price](badType)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestPackManyUnpackMany(t *testing.T) {
	infos := []PriceInfo{
		{Price: 1, Confidence: 2, Status: PriceStatusTrading, PublishSlot: 3},
		{Price: -4, Confidence: 5, Status: PriceStatusUnknown, PublishSlot: 6},
		{Price: 7, Confidence: 8, Status: PriceStatusHalted, PublishSlot: 9},
	}
	buf := make([]byte, len(infos)*PriceInfoLen)
	require.NoError(t, PackMany(infos, buf))

	got, err := UnpackMany[PriceInfo](len(infos), buf)
	require.NoError(t, err)
	assert.Equal(t, infos, got)

	// Stride is the record length with no padding.
	second, err := Unpack[PriceInfo](buf[PriceInfoLen:])
	require.NoError(t, err)
	assert.Equal(t, infos[1], second)

	_, err = UnpackMany[PriceInfo](4, buf)
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.ErrorIs(t, PackMany(infos, buf[:len(buf)-1]), ErrShortBuffer)
}

func TestComponentRegion(t *testing.T) {
	assert.Equal(t, 0, ComponentCapacity(PriceLen))
	assert.Equal(t, 1, ComponentCapacity(PriceLen+PriceComponentLen+5))
	assert.Equal(t, MaxComponents, ComponentCapacity(PriceAccountSize))
	assert.Equal(t, MaxComponents, ComponentCapacity(PriceAccountSize*2))

	data := make([]byte, PriceAccountSize)
	comps := make([]PriceComponent, 2)
	comps[0].Publisher[0] = 1
	comps[0].Latest = PriceInfo{Price: 99, Status: PriceStatusTrading}
	comps[1].Publisher[0] = 2
	require.NoError(t, WriteComponents(data, comps))

	// The price record is untouched.
	assert.Equal(t, make([]byte, PriceLen), data[:PriceLen])

	got, err := ReadComponents(data, 2)
	require.NoError(t, err)
	assert.Equal(t, comps, got)

	_, err = ReadComponents(data[:PriceLen+PriceComponentLen], 2)
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.ErrorIs(t, WriteComponents(data[:PriceLen], comps), ErrShortBuffer)

	// Buffers that cannot hold the price record fail even for zero components.
	_, err = ReadComponents(make([]byte, 100), 0)
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.ErrorIs(t, WriteComponents(make([]byte, 100), nil), ErrShortBuffer)

	none, err := ReadComponents(data[:PriceLen], 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPeekAccountType(t *testing.T) {
	buf, err := PackToVec(newPriceAccount())
	require.NoError(t, err)
	assert.Equal(t, AccountTypePrice, PeekAccountType(buf))

	assert.Equal(t, AccountTypeUnknown, PeekAccountType(make([]byte, PriceLen)))
	assert.Equal(t, AccountTypeUnknown, PeekAccountType([]byte{1, 2, 3}))
}

func TestPriceInfoValue(t *testing.T) {
	info := PriceInfo{Price: 1500, Confidence: 25, Status: PriceStatusTrading}
	price, conf, ok := info.Value(-2)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("15")))
	assert.True(t, conf.Equal(decimal.RequireFromString("0.25")))

	info.Status = PriceStatusHalted
	_, _, ok = info.Value(-2)
	assert.False(t, ok)
}
