package notify

import "credit_market/internal/domain"

// Real-time event names seen by clients.
const (
	NameBidPlaced        = "bidplaced"
	NameUserOutbid       = "useroutbid"
	NameAuctionExtended  = "auctionextended"
	NameAuctionEnded     = "auctionended"
	NameListingCancelled = "listingcancelled"
	NameListingPurchased = "listingpurchased"
	NameCommandResult    = "commandresult"
)

func AuctionGroup(listingID string) string { return "auction_" + listingID }
func UserGroup(userID string) string       { return "user_" + userID }

// Route is one delivery of an event to a group.
type Route struct {
	Name  string
	Group string
}

// Routes maps a domain event to its deliveries. The auction group always comes first.
func Routes(ev domain.Event) []Route {
	auction := AuctionGroup(ev.AggregateID())

	switch e := ev.(type) {
	case domain.BidPlaced:
		return []Route{{NameBidPlaced, auction}}
	case domain.BidOutbid:
		return []Route{
			{NameUserOutbid, auction},
			{NameUserOutbid, UserGroup(e.OutbidUserID)},
		}
	case domain.AuctionExtended:
		return []Route{{NameAuctionExtended, auction}}
	case domain.AuctionCompleted:
		return withUsers(NameAuctionEnded, auction, e.WinnerID, e.OwnerID)
	case domain.AuctionCompletedWithoutBids:
		return withUsers(NameAuctionEnded, auction, e.OwnerID)
	case domain.ListingCancelled:
		return withUsers(NameListingCancelled, auction, e.OwnerID)
	case domain.ListingPurchased:
		return withUsers(NameListingPurchased, auction, e.BuyerID, e.OwnerID)
	default:
		return nil
	}
}

func withUsers(name, auction string, users ...string) []Route {
	routes := []Route{{name, auction}}
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		routes = append(routes, Route{name, UserGroup(u)})
	}
	return routes
}
