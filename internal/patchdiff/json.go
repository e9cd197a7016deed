package patchdiff

import "encoding/json"

func marshalOps(ops []Op) ([]byte, error) {
	return json.Marshal(ops)
}

func marshalValue(v map[string]interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalValue(b []byte) (map[string]interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}

	return v, nil
}
