package validate_test

import (
	"fmt"

	"github.com/sanlink/sanlink/shared/validate"
)

func ExampleIsBool() {
	tests := []string{
		"true",
		"false",
		"yes",
		"off",
		"2",
		"",
	}

	for _, v := range tests {
		err := validate.IsBool(v)
		fmt.Printf("%s, %t\n", v, err == nil)
	}

	// Output: true, true
	// false, true
	// yes, true
	// off, true
	// 2, false
	// , false
}

func ExampleIsRequestURL() {
	tests := []string{
		"https://10.0.0.1",
		"https://xms.example.net:443",
		"http://insecure.example.net",
		"ftp://xms.example.net",
		"xms.example.net",
		"",
	}

	for _, v := range tests {
		err := validate.IsRequestURL(v)
		fmt.Printf("%s, %t\n", v, err == nil)
	}

	// Output: https://10.0.0.1, true
	// https://xms.example.net:443, true
	// http://insecure.example.net, true
	// ftp://xms.example.net, false
	// xms.example.net, false
	// , false
}

func ExampleOptional() {
	tests := []string{
		"",
		"value",
		"yes",
	}

	for _, v := range tests {
		err := validate.Optional(validate.IsBool)(v)
		fmt.Printf("%q, %t\n", v, err == nil)
	}

	// Output: "", true
	// "value", false
	// "yes", true
}
