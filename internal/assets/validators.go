package assets

import (
	"regexp"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

var (
	btcMainRe = regexp.MustCompile(`^(bc1[qpzry9x8gf2tvdw0s3jn54khce6mua7l]{14,74}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})$`)
	btcTestRe = regexp.MustCompile(`^(tb1[qpzry9x8gf2tvdw0s3jn54khce6mua7l]{14,74}|[mn2][a-km-zA-HJ-NP-Z1-9]{25,34})$`)
	evmRe     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	tronRe    = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
)

// tronAddressVersion is the base58check version byte of TRON mainnet addresses.
const tronAddressVersion = 0x41

var validators = map[Format]func(string) bool{
	FormatBitcoin:        func(a string) bool { return validBitcoin(a, btcMainRe, &chaincfg.MainNetParams) },
	FormatBitcoinTestnet: func(a string) bool { return validBitcoin(a, btcTestRe, &chaincfg.TestNet3Params) },
	FormatEVM:            validEVM,
	FormatTron:           validTron,
}

func validBitcoin(address string, re *regexp.Regexp, params *chaincfg.Params) bool {
	if !re.MatchString(address) {
		return false
	}
	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return false
	}
	return decoded.IsForNet(params)
}

// validEVM accepts all-lower and all-upper hex; mixed case must carry a valid EIP-55 checksum.
func validEVM(address string) bool {
	if !evmRe.MatchString(address) {
		return false
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(address).Hex() == address
}

func validTron(address string) bool {
	if !tronRe.MatchString(address) {
		return false
	}
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return false
	}
	return version == tronAddressVersion && len(payload) == common.AddressLength
}

// AddressForms returns the spellings under which address may have been
// stored. EVM hex is case-insensitive, so lower and checksummed forms are
// included; other formats are exact.
func (c *Catalog) AddressForms(symbol, address string) ([]string, error) {
	a, err := c.Describe(symbol)
	if err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if a.Format != FormatEVM || !evmRe.MatchString(address) {
		return []string{address}, nil
	}

	forms := []string{address}
	for _, f := range []string{strings.ToLower(address), common.HexToAddress(address).Hex()} {
		if !slices.Contains(forms, f) {
			forms = append(forms, f)
		}
	}
	return forms, nil
}
