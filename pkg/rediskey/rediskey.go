package rediskey

import "fmt"

const (
	PricePrefix    = "price"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildPriceKey returns "price:{symbol}"
func BuildPriceKey(symbol string) string {
	return NamespaceKey(PricePrefix, symbol)
}

// BuildSequenceKey returns "seq:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, prefix+":"+day)
}
