package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToString(t *testing.T) {
	assert.Equal(t, "", BytesToString(nil))
	assert.Equal(t, "", BytesToString([]byte{}))
	assert.Equal(t, "hello", BytesToString([]byte("hello")))
}

func TestStringToBytes(t *testing.T) {
	assert.Nil(t, StringToBytes(""))
	assert.Equal(t, []byte("hello"), StringToBytes("hello"))
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(16)
	b.WriteString("hello")
	b.WriteByte(' ')
	b.WriteString("world")
	assert.Equal(t, "hello world", b.String())
	assert.Equal(t, 11, b.Len())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.String())
}

func TestBuilderPooling(t *testing.T) {
	b := GetBuilder(Small)
	b.WriteString("pooled")
	assert.Equal(t, "pooled", b.String())
	PutBuilder(b, Small)

	b2 := GetBuilder(Small)
	assert.Equal(t, 0, b2.Len())
	PutBuilder(b2, Small)
}

func TestClone(t *testing.T) {
	assert.Equal(t, "", Clone(""))
	buf := []byte("mutable")
	s := Clone(BytesToString(buf))
	buf[0] = 'X'
	assert.Equal(t, "mutable", s)
}

func TestContainsIndex(t *testing.T) {
	assert.True(t, Contains("hello world", "world"))
	assert.False(t, Contains("hello", "world"))
	assert.Equal(t, 6, Index("hello world", "world"))
	assert.Equal(t, -1, Index("hello", "world"))
	assert.Equal(t, 0, Index("hello", ""))
}

func TestHasPrefixSuffix(t *testing.T) {
	assert.True(t, HasPrefix("api/v6/users", "api/"))
	assert.False(t, HasPrefix("users", "api/"))
	assert.True(t, HasSuffix("users.json", ".json"))
	assert.False(t, HasSuffix("users", ".json"))
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "", Concat())
	assert.Equal(t, "one", Concat("one"))
	assert.Equal(t, "onetwothree", Concat("one", "two", "three"))
}

func TestSprintf(t *testing.T) {
	assert.Equal(t, "plain", Sprintf("plain"))
	assert.Equal(t, "value=42", Sprintf("value=%d", 42))
	assert.Equal(t, "a b c", Sprintf("%s %s %s", "a", "b", "c"))
}

func TestJoinPooled(t *testing.T) {
	assert.Equal(t, "", JoinPooled(nil, "_"))
	assert.Equal(t, "only", JoinPooled([]string{"only"}, "_"))
	assert.Equal(t, "a_b_c", JoinPooled([]string{"a", "b", "c"}, "_"))
}

func TestURLBuilder(t *testing.T) {
	ub := NewURLBuilder("https://example.daktela.com/api/v6/tickets.json")
	ub.AddParam("accessToken", "abc123")
	ub.AddParamInt("skip", 1000)
	ub.AddParamInt("take", 500)
	url := ub.String()
	ub.Close()

	assert.Equal(t,
		"https://example.daktela.com/api/v6/tickets.json?accessToken=abc123&skip=1000&take=500",
		url)
}

func TestURLBuilderEscaping(t *testing.T) {
	ub := NewURLBuilder("https://example.com/x")
	ub.AddParam("filter[field]", "edited")
	ub.AddParam("filter[value]", "2024-01-01 00:00:00")
	url := ub.String()
	ub.Close()

	assert.Equal(t,
		"https://example.com/x?filter%5Bfield%5D=edited&filter%5Bvalue%5D=2024-01-01+00%3A00%3A00",
		url)
}

func TestURLBuilderExistingQuery(t *testing.T) {
	ub := NewURLBuilder("https://example.com/x?a=1")
	ub.AddParam("b", "2")
	url := ub.String()
	ub.Close()

	assert.Equal(t, "https://example.com/x?a=1&b=2", url)
}

func TestURLBuilderAddPath(t *testing.T) {
	ub := NewURLBuilder("https://example.com")
	ub.AddPath("api", "v6", "login.json")
	url := ub.String()
	ub.Close()

	assert.Equal(t, "https://example.com/api/v6/login.json", url)
}

func TestPathEscape(t *testing.T) {
	assert.Equal(t, "tickets_1", PathEscape("tickets_1"))
	assert.Equal(t, "5%200%3F1%23%2Fx", PathEscape("5 0?1#/x"))
	assert.Equal(t, "100%25", PathEscape("100%"))
}

func TestValueToString(t *testing.T) {
	assert.Equal(t, "", ValueToString(nil))
	assert.Equal(t, "text", ValueToString("text"))
	assert.Equal(t, "42", ValueToString(42))
	assert.Equal(t, "42", ValueToString(int64(42)))
	assert.Equal(t, "3.14", ValueToString(3.14))
	assert.Equal(t, "true", ValueToString(true))
	assert.Equal(t, "bytes", ValueToString([]byte("bytes")))
	assert.Equal(t, "[1 2]", ValueToString([]interface{}{1, 2}))
}
