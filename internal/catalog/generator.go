package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	productNames = []string{
		"Computer",
		"Backpack",
		"Wallet",
		"Dog Toy",
		"Coffee Cup",
		"Fountain Pen",
		"Phone Case",
		"Shoes",
		"Mystery Box",
		"Gadget",
		"Multi-tool",
	}

	adjectives = []string{
		"Sleek",
		"Durable",
		"Hip",
		"Futuristic",
		"Revolutionary",
		"All-New",
		"Handmade",
		"Hipster",
		"Practical",
		"Refined",
		"Rustic",
		"Ergonomic",
		"Intelligent",
	}

	descriptions = []string{
		"This best-in-class product will improve your life in ways you can't imagine.",
		"I consume, therefore I am.",
		"What are you waiting for? Everybody else already bought this!",
		"Three MIT Grads invented this thing so you know it's good ... right?",
		"From the makers of 'The Smurfs Movie' comes this exciting new purchasing opportunity",
		"The perfect gift for Dads, Grads, or people named Chad!",
		"As seen on Shark Tank, this will change the way you think!",
		"Step down sliced bread, there is a new greatest thing! And it's available with just one click.",
	}

	prices = []string{"0.99", "4.99", "9.99", "12.99", "14.99", "19.99", "26.99", "29.99", "99.99"}

	imageSizes = []string{"640", "600", "480", "800", "640", "700", "720"}

	imageCategories = []string{"arch", "tech", "nature"}
)

func (s *Service) pick(values []string) string {
	return values[s.intn(len(values))]
}

func (s *Service) generate() Item {
	return Item{
		ID:          s.nextID(),
		Name:        s.pick(adjectives) + " " + s.pick(productNames),
		Price:       decimal.NewNullDecimal(decimal.RequireFromString(s.pick(prices))),
		Description: s.pick(descriptions),
		ImageURL:    fmt.Sprintf("https://placeimg.com/%s/%s/%s", s.pick(imageSizes), s.pick(imageSizes), s.pick(imageCategories)),
	}
}
