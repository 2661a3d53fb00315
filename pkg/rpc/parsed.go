package rpc

import (
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/accounts"
	"github.com/fortiblox/pythsim/pkg/svm/programs/pyth"
)

// parseAccount decodes accounts owned by the oracle program. It returns nil
// for anything it does not recognize.
func parseAccount(account *accounts.Account, oracle types.Pubkey) *ParsedAccount {
	if account.Owner != oracle || pyth.PeekAccountType(account.Data) != pyth.AccountTypePrice {
		return nil
	}
	price, err := pyth.Unpack[pyth.Price](account.Data)
	if err != nil {
		return nil
	}
	return &ParsedAccount{
		Program: "pyth",
		Parsed:  ParsedRecord{Type: "price", Info: priceAccountInfo(&price, account.Data)},
		Space:   uint64(len(account.Data)),
	}
}

func priceAccountInfo(p *pyth.Price, data []byte) PriceAccountInfo {
	return PriceAccountInfo{
		Magic:         p.Magic,
		Version:       p.Version,
		PriceType:     p.PriceType.String(),
		Exponent:      p.Exponent,
		NumComponents: p.NumComponents,
		NumQuoters:    p.NumQuoters,
		LastSlot:      p.LastSlot,
		ValidSlot:     p.ValidSlot,
		Product:       p.Product.String(),
		Next:          p.Next.String(),
		PrevSlot:      p.PrevSlot,
		PrevPrice:     p.PrevPrice,
		PrevConf:      p.PrevConfidence,
		Twap:          p.Twap.DecimalValue(p.Exponent).String(),
		Twac:          p.Twac.DecimalValue(p.Exponent).String(),
		Aggregate:     priceInfoParsed(p.Aggregate, p.Exponent),
		Components:    componentsParsed(p, data),
	}
}

// componentsParsed lists the populated publisher components. A count larger
// than the buffer holds is clamped to what fits.
func componentsParsed(p *pyth.Price, data []byte) []PriceComponentParsed {
	n := int(p.NumComponents)
	if c := pyth.ComponentCapacity(len(data)); n > c {
		n = c
	}
	comps, err := pyth.ReadComponents(data, n)
	if err != nil {
		return nil
	}
	out := make([]PriceComponentParsed, len(comps))
	for i, c := range comps {
		out[i] = PriceComponentParsed{
			Publisher: c.Publisher.String(),
			Aggregate: priceInfoParsed(c.Aggregate, p.Exponent),
			Latest:    priceInfoParsed(c.Latest, p.Exponent),
		}
	}
	return out
}

func priceInfoParsed(info pyth.PriceInfo, exponent int32) PriceInfoParsed {
	uiPrice, uiConf, _ := info.Value(exponent)
	return PriceInfoParsed{
		Price:       info.Price,
		Confidence:  info.Confidence,
		Status:      info.Status.String(),
		PublishSlot: info.PublishSlot,
		UIPrice:     uiPrice.String(),
		UIConf:      uiConf.String(),
	}
}
