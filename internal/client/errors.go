package client

import "github.com/knirvcorp/shoplist/internal/shoperr"

func errListUnknown(id string) error {
	return shoperr.New(shoperr.NotFound, "list not locally known: "+id)
}

func errItemUnknown(id string) error {
	return shoperr.New(shoperr.NotFound, "item not locally known: "+id)
}
