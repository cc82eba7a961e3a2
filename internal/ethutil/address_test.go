package ethutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressList(t *testing.T) {
	t.Run("blank", func(t *testing.T) {
		got, err := ParseAddressList("   \n\t")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("separators and duplicates", func(t *testing.T) {
		got, err := ParseAddressList("0x0000000000000000000000000000000000000002; 0x0000000000000000000000000000000000000001,\n0x0000000000000000000000000000000000000002")
		require.NoError(t, err)
		assert.Equal(t, []common.Address{common.HexToAddress("0x2"), common.HexToAddress("0x1")}, got)
	})

	t.Run("bare hex", func(t *testing.T) {
		got, err := ParseAddressList("C02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), got[0])
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseAddressList("0x01, 0xnotanaddress")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid hex address")
	})
}

func TestSortedAddresses(t *testing.T) {
	in := []common.Address{common.HexToAddress("0x3"), common.HexToAddress("0x1"), common.HexToAddress("0x2")}
	got := SortedAddresses(in)
	assert.Equal(t, []common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2"), common.HexToAddress("0x3")}, got)
	assert.Equal(t, common.HexToAddress("0x3"), in[0], "input must not be reordered")
}

func TestTopicRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	topic := AddressToTopic(addr)
	assert.Equal(t, "0x00000000000000000000000068b3465833fb72a70ecdf485e0e4c7bd8665fc45", topic.Hex())
	assert.Equal(t, addr, TopicToAddress(topic))
}

func TestJoinHex(t *testing.T) {
	assert.Equal(t, "", JoinHex(nil))
	assert.Equal(t,
		"0x0000000000000000000000000000000000000001,0x0000000000000000000000000000000000000002",
		JoinHex([]common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2")}))
}
