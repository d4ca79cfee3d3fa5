package services

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func marshalJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}
