package repository

import (
	"fmt"
	"strings"

	"closer/internal/domain"
)

// Store is a cache backend for chain reads and platform documents.
type Store interface {
	domain.ChainCache
	domain.BlobCache
}

const keyPrefix = "closer"

func accountPrefix(account string) string {
	return fmt.Sprintf("%s:chain:%s:", keyPrefix, strings.ToLower(account))
}

func bookingsKey(account string, year uint16) string {
	return fmt.Sprintf("%sbookings:%d", accountPrefix(account), year)
}

func amountKey(account, name string) string {
	return accountPrefix(account) + "amount:" + name
}

func blobKey(key string) string {
	return keyPrefix + ":blob:" + key
}

func rateKey(key string) string {
	return keyPrefix + ":rate:" + key
}
