package cache

import (
	"encoding/json"
	"strconv"

	"cartbroker/internal/models"

	"github.com/cespare/xxhash/v2"
)

// Table hashes are the wrapping sum of per-entity hashes. The sum does not
// depend on iteration order and a single entity can be swapped in or out
// without rehashing the whole table.

func entityHash(v any) uint64 {
	raw, err := json.Marshal(v)
	if err != nil {
		// Plain data structs; Marshal cannot fail on them.
		panic(err)
	}
	return xxhash.Sum64(raw)
}

func reservationHash(r *models.Reservation) uint64 {
	return entityHash(r)
}

func retiredHash(id string, status models.Status) uint64 {
	return xxhash.Sum64String("retired:" + id + ":" + string(status))
}

func userHash(u models.User) uint64 {
	return xxhash.Sum64String("user:" + u.Handle + ":" + strconv.FormatInt(u.ChatID, 10))
}

func cartHash(c models.Cart) uint64 {
	return entityHash(c)
}

func hashReservations(live map[string]*models.Reservation, retired map[string]models.Status) uint64 {
	var sum uint64
	for _, r := range live {
		sum += reservationHash(r)
	}
	for id, st := range retired {
		sum += retiredHash(id, st)
	}
	return sum
}

func hashUsers(users map[string]models.User) uint64 {
	var sum uint64
	for _, u := range users {
		sum += userHash(u)
	}
	return sum
}

func hashCarts(carts map[string]models.Cart) uint64 {
	var sum uint64
	for _, c := range carts {
		sum += cartHash(c)
	}
	return sum
}
