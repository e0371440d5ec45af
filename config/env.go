package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// loadFromEnvironment loads configuration from environment variables
// using reflection to parse struct tags.
func loadFromEnvironment(cfg *Config) error {
	return loadStruct(reflect.ValueOf(cfg).Elem())
}

func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && fieldType.Type.Name() != "Duration" {
			if err := loadStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		defaultTag := fieldType.Tag.Get("default")
		if envTag == "" {
			continue
		}

		value := os.Getenv(envTag)
		if value == "" {
			value = defaultTag
		}

		if err := setFieldValue(field, value, envTag); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value, envName string) error {
	if value == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %s", envName, value)
		}
		field.SetBool(boolVal)

	case reflect.Int:
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %s", envName, value)
		}
		field.SetInt(intVal)

	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value for %s: %s", envName, value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %s", envName, value)
			}
			field.SetInt(intVal)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			strSlice := strings.Split(value, ",")
			for i, s := range strSlice {
				strSlice[i] = strings.TrimSpace(s)
			}
			if len(strSlice) == 1 && strSlice[0] == "" {
				strSlice = nil
			}
			field.Set(reflect.ValueOf(strSlice))
		} else {
			return fmt.Errorf("unsupported slice type for %s", envName)
		}

	default:
		return fmt.Errorf("unsupported field type %s for %s", field.Kind(), envName)
	}

	return nil
}
