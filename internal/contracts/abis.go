// Package contracts holds the ABIs of the on-chain contracts the core talks to.
package contracts

const conditionalTokensJSON = `[
{"type":"function","name":"prepareCondition","stateMutability":"nonpayable","inputs":[{"name":"oracle","type":"address"},{"name":"questionId","type":"bytes32"},{"name":"outcomeSlotCount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getConditionId","stateMutability":"pure","inputs":[{"name":"oracle","type":"address"},{"name":"questionId","type":"bytes32"},{"name":"outcomeSlotCount","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getOutcomeSlotCount","stateMutability":"view","inputs":[{"name":"conditionId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"reportPayouts","stateMutability":"nonpayable","inputs":[{"name":"questionId","type":"bytes32"},{"name":"payouts","type":"uint256[]"}],"outputs":[]},
{"type":"function","name":"redeemPositions","stateMutability":"nonpayable","inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"outputs":[]},
{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"event","name":"ConditionResolution","anonymous":false,"inputs":[{"name":"conditionId","type":"bytes32","indexed":true},{"name":"oracle","type":"address","indexed":true},{"name":"questionId","type":"bytes32","indexed":true},{"name":"outcomeSlotCount","type":"uint256","indexed":false},{"name":"payoutNumerators","type":"uint256[]","indexed":false}]},
{"type":"event","name":"PayoutRedemption","anonymous":false,"inputs":[{"name":"redeemer","type":"address","indexed":true},{"name":"collateralToken","type":"address","indexed":true},{"name":"parentCollectionId","type":"bytes32","indexed":true},{"name":"conditionId","type":"bytes32","indexed":false},{"name":"indexSets","type":"uint256[]","indexed":false},{"name":"payout","type":"uint256","indexed":false}]}
]`

const erc20JSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]}
]`

const lmsrFactoryJSON = `[
{"type":"function","name":"createLMSRMarketMaker","stateMutability":"nonpayable","inputs":[{"name":"pmSystem","type":"address"},{"name":"collateralToken","type":"address"},{"name":"conditionIds","type":"bytes32[]"},{"name":"fee","type":"uint64"},{"name":"whitelist","type":"address"},{"name":"funding","type":"uint256"}],"outputs":[{"name":"lmsrMarketMaker","type":"address"}]},
{"type":"event","name":"LMSRMarketMakerCreation","anonymous":false,"inputs":[{"name":"creator","type":"address","indexed":true},{"name":"lmsrMarketMaker","type":"address","indexed":false},{"name":"pmSystem","type":"address","indexed":false},{"name":"collateralToken","type":"address","indexed":false},{"name":"conditionIds","type":"bytes32[]","indexed":false},{"name":"fee","type":"uint64","indexed":false},{"name":"funding","type":"uint256","indexed":false}]}
]`

const lmsrMarketMakerJSON = `[
{"type":"function","name":"calcNetCost","stateMutability":"view","inputs":[{"name":"outcomeTokenAmounts","type":"int256[]"}],"outputs":[{"name":"netCost","type":"int256"}]},
{"type":"function","name":"calcMarginalPrice","stateMutability":"view","inputs":[{"name":"outcomeTokenIndex","type":"uint8"}],"outputs":[{"name":"price","type":"uint256"}]},
{"type":"function","name":"trade","stateMutability":"nonpayable","inputs":[{"name":"outcomeTokenAmounts","type":"int256[]"},{"name":"collateralLimit","type":"int256"}],"outputs":[{"name":"netCost","type":"int256"}]},
{"type":"event","name":"AMMOutcomeTokenTrade","anonymous":false,"inputs":[{"name":"transactor","type":"address","indexed":true},{"name":"outcomeTokenAmounts","type":"int256[]","indexed":false},{"name":"outcomeTokenNetCost","type":"int256","indexed":false},{"name":"marketFees","type":"uint256","indexed":false}]}
]`

const fpmmJSON = `[
{"type":"event","name":"FPMMBuy","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":true},{"name":"investmentAmount","type":"uint256","indexed":false},{"name":"feeAmount","type":"uint256","indexed":false},{"name":"outcomeIndex","type":"uint256","indexed":true},{"name":"outcomeTokensBought","type":"uint256","indexed":false}]},
{"type":"event","name":"FPMMSell","anonymous":false,"inputs":[{"name":"seller","type":"address","indexed":true},{"name":"returnAmount","type":"uint256","indexed":false},{"name":"feeAmount","type":"uint256","indexed":false},{"name":"outcomeIndex","type":"uint256","indexed":true},{"name":"outcomeTokensSold","type":"uint256","indexed":false}]}
]`
